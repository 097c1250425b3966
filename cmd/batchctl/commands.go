package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"clipwright/internal/app"
	"clipwright/internal/config"
	"clipwright/internal/logging"
	"clipwright/internal/models"
	"clipwright/internal/stream"
	"clipwright/internal/transcription"
	"clipwright/internal/version"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonFlag  bool
	quietFlag bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "batchctl",
		Short: "Run transcription and copy batches against the local database",
		Long: `batchctl runs the same batch engine as the server, in the foreground.

Configuration is read from .env, CONFIG_FILE and the environment.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print progress events as JSON lines")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only print the final summary")

	rootCmd.AddCommand(newTranscribeCmd())
	rootCmd.AddCommand(newCopiesCmd())
	rootCmd.AddCommand(newVideoCmd())
	rootCmd.AddCommand(newProjectCmd())

	return rootCmd
}

// withApp loads configuration, builds the services and runs fn until it
// returns or the process is interrupted.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, a)
}

func newTranscribeCmd() *cobra.Command {
	var (
		mode        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "transcribe <item-id>...",
		Short: "Transcribe videos by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := transcription.ParseMode(mode)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				summary, err := a.Transcription.Run(ctx, transcription.Request{
					ItemIDs:     args,
					Mode:        m,
					Concurrency: concurrency,
				}, printer(cmd.OutOrStdout()))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "missing", "Item selection: missing, all, force")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Items per chunk (default from config)")
	return cmd
}

func newCopiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copies",
		Short: "Generate marketing copies for a project",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate <project-id>",
		Short: "Generate five copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				b, err := a.Copygen.Queue(ctx, args[0])
				if err != nil {
					return err
				}
				return runCopyBatch(ctx, cmd.OutOrStdout(), a, b)
			})
		},
	})

	var draft, instructions string
	regen := &cobra.Command{
		Use:   "regen <project-id> <sequence>",
		Short: "Regenerate one copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("sequence must be a number: %w", err)
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				b, err := a.Copygen.QueueRegen(ctx, args[0], seq, draft, instructions)
				if err != nil {
					return err
				}
				return runCopyBatch(ctx, cmd.OutOrStdout(), a, b)
			})
		},
	}
	regen.Flags().StringVar(&draft, "draft", "", "Previous draft to improve on")
	regen.Flags().StringVar(&instructions, "instructions", "", "Correction instructions")
	cmd.AddCommand(regen)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <project-id>",
		Short: "List generated copies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				copies, err := a.Copies.ListByProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), copies)
			})
		},
	})

	return cmd
}

func runCopyBatch(ctx context.Context, w io.Writer, a *app.App, b *models.Batch) error {
	summary, err := a.Copygen.Run(ctx, b.ID, stream.Tee(printer(w), a.Emitter(b.ID)))
	if err != nil {
		return err
	}
	return printJSON(w, summary)
}

func newVideoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Manage transcription items",
	}

	var v models.Video
	var hashtags, topics string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v.AudioURL == "" && v.VideoURL == "" && v.ShareURL == "" {
				return fmt.Errorf("one of --audio-url, --video-url or --share-url is required")
			}
			v.Hashtags = splitList(hashtags)
			v.TopicTags = splitList(topics)
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Videos.Create(ctx, &v); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&v.Title, "title", "", "Video title")
	add.Flags().StringVar(&v.Author, "author", "", "Author handle")
	add.Flags().StringVar(&v.ProjectID, "project", "", "Project id")
	add.Flags().StringVar(&v.AudioURL, "audio-url", "", "Direct audio link")
	add.Flags().StringVar(&v.VideoURL, "video-url", "", "Playable video URL")
	add.Flags().StringVar(&v.ShareURL, "share-url", "", "Share page URL")
	add.Flags().StringVar(&hashtags, "hashtags", "", "Comma separated hashtags")
	add.Flags().StringVar(&topics, "topics", "", "Comma separated topic tags")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a video and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				v, err := a.Videos.GetByID(ctx, args[0])
				if err != nil {
					return err
				}
				if v == nil {
					return fmt.Errorf("video %s not found", args[0])
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	})

	return cmd
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage copy projects",
	}

	var p models.Project
	var keyPoints string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			p.KeyPoints = splitList(keyPoints)
			return withApp(func(ctx context.Context, a *app.App) error {
				if err := a.Projects.Create(ctx, &p); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&p.Product, "product", "", "Product being advertised")
	create.Flags().StringVar(&p.Audience, "audience", "", "Target audience")
	create.Flags().StringVar(&p.Tone, "tone", "", "Tone of voice")
	create.Flags().StringVar(&keyPoints, "key-points", "", "Comma separated selling points")
	cmd.AddCommand(create)

	return cmd
}

// printer writes each progress event to w
func printer(w io.Writer) stream.Emitter {
	return stream.EmitterFunc(func(e stream.Event) {
		if quietFlag {
			return
		}
		if jsonFlag {
			b, _ := json.Marshal(e)
			fmt.Fprintln(w, string(b))
			return
		}
		fmt.Fprintln(w, formatEvent(e))
	})
}

func formatEvent(e stream.Event) string {
	switch d := e.Data.(type) {
	case stream.StartData:
		return fmt.Sprintf("start    %d items", d.Total)
	case stream.FilteredData:
		return fmt.Sprintf("filtered %d to process, %d skipped", d.Total, d.Skipped)
	case stream.ProcessingData:
		return fmt.Sprintf("running  %s %s", d.ItemID, d.Title)
	case stream.ItemData:
		line := fmt.Sprintf("[%d/%d]  %s %s", d.Progress.Completed, d.Progress.Total, d.ItemID, d.Status)
		if d.Error != "" {
			line += ": " + d.Error
		}
		return line
	case stream.DoneData:
		return fmt.Sprintf("done     %s", d.Summary.Status)
	case stream.ErrorData:
		return fmt.Sprintf("error    %s", d.Message)
	}
	return string(e.Type)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
