// Package cmds holds the parley CLI commands.
package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/chat/cache"
	"github.com/go-go-golems/parley/pkg/chat/client"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/chat/speak"
	"github.com/go-go-golems/parley/pkg/chat/turnloop"
	"github.com/go-go-golems/parley/pkg/chat/validate"
	"github.com/go-go-golems/parley/pkg/config"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/fsx"
	"github.com/go-go-golems/parley/pkg/index"
	"github.com/go-go-golems/parley/pkg/patch"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/tools"
	"github.com/go-go-golems/parley/pkg/usage"
)

// SettingsLoader defers config loading until the command actually runs.
type SettingsLoader func() (*config.Settings, error)

func NewChatCommand(loadSettings SettingsLoader) *cobra.Command {
	var (
		providerName string
		model        string
		systemPrompt string
		projectRoot  string
		resumeID     string
		maxTurns     int
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Run a tool-dispatch conversation turn loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if providerName == "" {
				providerName = settings.Provider
			}

			providerSettings, ok := settings.Providers[providerName]
			if !ok {
				return errors.Errorf("provider %s is not configured", providerName)
			}
			if model == "" {
				model = providerSettings.Model
			}
			if maxTurns <= 0 {
				maxTurns = settings.Loop.MaxTurns
			}

			fileStore, err := store.NewFileStore(settings.StoreDirectory)
			if err != nil {
				return err
			}

			conv, err := resolveConversation(fileStore, resumeID, providerName, model, systemPrompt)
			if err != nil {
				return err
			}

			engine, err := buildEngine(settings, fileStore, conv, providerName, providerSettings, projectRoot, maxTurns)
			if err != nil {
				return err
			}
			defer engine.patchManager.Wait()

			prompt := strings.Join(args, " ")
			resp, err := engine.loop.Run(cmd.Context(), conv, prompt, &providers.SpeakOptions{})
			if err != nil {
				return err
			}
			if resp == nil {
				return errors.New("no response produced")
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text())
			log.Info().
				Str("conversationID", conv.ID.String()).
				Int("turns", conv.TurnCount).
				Int("requests", conv.RequestCount).
				Int("totalTokens", conv.Usage.TotalTokens).
				Msg("conversation finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "provider to use (claude, openai)")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt for new conversations")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root for file tools (default: discovered)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "conversation id to resume")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "turn budget for this run")

	return cmd
}

type engine struct {
	patchManager *patch.Manager
	loop         *turnloop.Loop
}

func buildEngine(
	settings *config.Settings,
	fileStore store.ConversationStore,
	conv *conversation.Conversation,
	providerName string,
	providerSettings config.ProviderSettings,
	projectRoot string,
	maxTurns int,
) (*engine, error) {
	transport := providers.NewHTTPTransport(providerSettings.BaseURL, providerSettings.APIKey)
	provider, err := providers.New(providerName, transport)
	if err != nil {
		return nil, err
	}

	clientOptions := client.DefaultOptions()
	clientOptions.MaxRetries = settings.Retry.MaxRetries
	clientOptions.InitialBackoff = settings.Retry.InitialBackoff
	clientOptions.RequestTimeout = settings.Retry.RequestTimeout
	clientOptions.CacheEnabled = settings.Cache.Enabled
	if settings.Cache.TTL > 0 {
		clientOptions.CacheTTL = settings.Cache.TTL
	}

	var requestCache cache.Cache
	if settings.Cache.Enabled {
		diskCache, err := cache.NewDiskCache(cache.WithDirectory(settings.Cache.Directory))
		if err != nil {
			return nil, err
		}
		requestCache = diskCache
	}

	chatClient := client.New(provider,
		client.WithCache(requestCache),
		client.WithTracker(usage.NewTracker()),
		client.WithOptions(clientOptions),
	)

	publisher, err := buildEventLogger()
	if err != nil {
		return nil, err
	}

	speaker := speak.New(chatClient, validate.New(), provider,
		speak.WithMaxAttempts(settings.Loop.MaxSpeakAttempts),
		speak.WithPublisher(publisher),
	)

	if projectRoot == "" {
		projectRoot = settings.ProjectRoot
	}
	if projectRoot == "" {
		projectRoot = fsx.DiscoverRoot(".")
	}
	projectFS, err := fsx.NewProjectFS(projectRoot)
	if err != nil {
		return nil, err
	}

	// Each conversation reverts its own patches.
	patchManager := patch.NewManager(projectFS, fileStore.PatchLog(conv.ID),
		patch.WithRefresher(index.NewTagIndexer()),
		patch.WithPublisher(publisher, conv.ID),
	)

	dispatcher, err := buildDispatcher(settings, projectFS, patchManager)
	if err != nil {
		return nil, err
	}

	loop := turnloop.New(speaker, dispatcher,
		turnloop.WithStore(fileStore),
		turnloop.WithMaxTurns(maxTurns),
		turnloop.WithPublisher(publisher),
	)

	return &engine{
		patchManager: patchManager,
		loop:         loop,
	}, nil
}

// buildEventLogger routes lifecycle events through an in-process pubsub and
// logs them at debug level.
func buildEventLogger() (*events.PublisherManager, error) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})

	messages, err := pubsub.Subscribe(context.Background(), "parley.events")
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range messages {
			log.Debug().
				Str("eventType", msg.Metadata.Get("event_type")).
				RawJSON("event", msg.Payload).
				Msg("lifecycle event")
			msg.Ack()
		}
	}()

	manager := events.NewPublisherManager()
	manager.SubscribePublisher("parley.events", pubsub)
	return manager, nil
}

func buildDispatcher(settings *config.Settings, projectFS *fsx.ProjectFS, patchManager *patch.Manager) (*tools.Dispatcher, error) {
	requestFiles, err := tools.NewRequestFilesTool(projectFS)
	if err != nil {
		return nil, err
	}
	applyPatch, err := tools.NewApplyPatchTool(patchManager)
	if err != nil {
		return nil, err
	}
	revertPatch, err := tools.NewRevertPatchTool(patchManager)
	if err != nil {
		return nil, err
	}

	dispatcher := tools.NewDispatcher(requestFiles, applyPatch, revertPatch)

	// Vector search needs an embedding provider; only wire it when OpenAI is
	// configured. The index builds lazily on the first search.
	if openaiSettings, ok := settings.Providers[providers.ProviderOpenAI]; ok && openaiSettings.APIKey != "" {
		embedder := index.NewOpenAIEmbeddingProvider(openaiSettings.APIKey, "", 0)
		vectorIndex := index.NewLazyIndex(index.NewVectorIndex(embedder), projectFS)
		vectorSearch, err := tools.NewVectorSearchTool(vectorIndex)
		if err != nil {
			return nil, err
		}
		dispatcher.Register(vectorSearch)
	}

	return dispatcher, nil
}

func resolveConversation(
	fileStore store.ConversationStore,
	resumeID string,
	providerName string,
	model string,
	systemPrompt string,
) (*conversation.Conversation, error) {
	if resumeID == "" {
		var options []conversation.ConversationOption
		if systemPrompt != "" {
			options = append(options, conversation.WithSystemPrompt(systemPrompt))
		}
		return conversation.New(providerName, model, options...), nil
	}

	id, err := uuid.Parse(resumeID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid conversation id %s", resumeID)
	}
	return fileStore.Load(id)
}
