package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/chunker"
	"github.com/dshills/repoexplain/internal/mcp"
	"github.com/dshills/repoexplain/internal/pipeline"
	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), true)
			if err != nil {
				// ask_repository reports the missing backend per call
				a.logger.Warn("generation backend unavailable", zap.Error(err))
				if p, err = a.pipeline(cmd.Context(), false); err != nil {
					return err
				}
			}

			s := mcp.NewServer(p, a.readOpen, mcp.Defaults{
				Location:        a.cfg.Store.Location,
				Collection:      a.cfg.Store.Collection,
				ModelID:         a.cfg.Embed.Model,
				BatchSize:       a.cfg.Embed.BatchSize,
				K:               a.cfg.Retrieval.K,
				RawDir:          a.cfg.GitHub.RawDir,
				NCtx:            a.cfg.Generation.NCtx,
				MaxAnswerTokens: a.cfg.Generation.MaxTokens,
				Fetch:           a.cfg.FetchOptions(),
			}, a.logger.Named("mcp"))

			a.logger.Info("repoexplain MCP server starting",
				zap.String("version", version),
				zap.String("build_mode", storage.BuildMode),
				zap.String("driver", storage.DriverName),
				zap.Bool("vector_extension", storage.VectorExtensionAvailable))

			errChan := make(chan error, 1)
			go func() {
				errChan <- s.Serve(cmd.Context())
			}()

			select {
			case <-cmd.Context().Done():
				a.logger.Info("shutting down")
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	var (
		localDir   string
		rawDir     string
		repo       string
		chunksPath string
		dummy      bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [repo-url]",
		Short: "Fetch a GitHub repository (or read --local), chunk it and store embeddings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			req := pipeline.IngestRequest{
				LocalDir:   localDir,
				RawDir:     rawDir,
				Repo:       repo,
				ChunksPath: chunksPath,
				Fetch:      a.cfg.FetchOptions(),
				Store:      a.indexOptions(dummy),
			}
			if len(args) == 1 {
				req.RepoURL = args[0]
			}
			if req.RepoURL != "" && req.RawDir == "" {
				req.RawDir = a.cfg.GitHub.RawDir
			}

			res, err := p.Ingest(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repo: %s\n", res.Repo)
			if req.RepoURL != "" {
				fmt.Fprintf(out, "files fetched: %d\n", res.Fetched)
			}
			fmt.Fprintf(out, "chunks: %d\n", res.Chunks)
			printStats(out, res.Stats.Collection, res.Stats.Stored, res.Stats.Fallback, res.Stats.BackupPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&localDir, "local", "", "index this directory instead of fetching")
	cmd.Flags().StringVar(&rawDir, "raw-dir", "", "directory for fetched files (default from config)")
	cmd.Flags().StringVar(&repo, "repo", "", "repository label stored with each chunk")
	cmd.Flags().StringVar(&chunksPath, "chunks", "", "also keep the chunk JSONL file at this path")
	cmd.Flags().BoolVar(&dummy, "dummy", false, "store zero vectors without calling the embedding model")
	return cmd
}

func newChunkCmd(flags *globalFlags) *cobra.Command {
	var (
		repo    string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "chunk <input-dir>",
		Short: "Chunk every text file under a directory into a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ch, err := chunker.New(a.cfg.ChunkOptions(), a.logger.Named("chunker"))
			if err != nil {
				return err
			}
			if repo == "" {
				repo = args[0]
			}

			n, err := ch.ChunkFolderToFile(cmd.Context(), args[0], repo, outPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d chunks to %s\n", n, outPath)
			if n == 0 {
				return pipeline.ErrNoChunks
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository label stored with each chunk (default: the input dir)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "chunks.jsonl", "output JSONL path")
	return cmd
}

func newEmbedCmd(flags *globalFlags) *cobra.Command {
	var dummy bool

	cmd := &cobra.Command{
		Use:   "embed <chunks.jsonl>",
		Short: "Embed a chunk JSONL file and store it in the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			stats, err := p.Indexer.StoreFile(cmd.Context(), args[0], a.indexOptions(dummy))
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats.Collection, stats.Stored, stats.Fallback, stats.BackupPath)
			if stats.Stored == 0 {
				return pipeline.ErrNothingStored
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dummy, "dummy", false, "store zero vectors without calling the embedding model")
	return cmd
}

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <embeddings_backup.jsonl>",
		Short: "Replay a fallback backup log into the persistent store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			stats, err := p.Indexer.RestoreBackup(cmd.Context(), args[0], a.indexOptions(false))
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats.Collection, stats.Stored, false, "")
			if stats.Stored == 0 {
				return pipeline.ErrNothingStored
			}
			return nil
		},
	}
}

func newQueryCmd(flags *globalFlags) *cobra.Command {
	var (
		k      int
		where  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Print the stored chunks nearest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), false)
			if err != nil {
				return err
			}

			req := a.retrievalRequest(strings.Join(args, " "), k)
			if where != "" {
				field, value, ok := strings.Cut(where, "=")
				if !ok {
					return fmt.Errorf("--where must be field=value, got %q", where)
				}
				if req.Where, err = storage.NewWhere(field, value); err != nil {
					return err
				}
			}

			results, err := p.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				printResults(cmd.OutOrStdout(), results)
			}
			if len(results) == 0 {
				return pipeline.ErrNoResults
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&where, "where", "", "metadata filter field=value (repo, file_path, file_type, chunk_index)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		k    int
		nCtx int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the indexed repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.pipeline(cmd.Context(), true)
			if err != nil {
				return err
			}
			if nCtx <= 0 {
				nCtx = a.cfg.Generation.NCtx
			}

			answer, err := p.Ask(cmd.Context(), pipeline.AskRequest{
				Search:          a.retrievalRequest(strings.Join(args, " "), k),
				NCtx:            nCtx,
				MaxAnswerTokens: a.cfg.Generation.MaxTokens,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.TrimSpace(answer.Text))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Sources:")
			for _, src := range answer.Sources {
				fmt.Fprintf(out, "  - %s\n", src)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	cmd.Flags().IntVar(&nCtx, "n-ctx", 0, "model context window in tokens (default from config)")
	return cmd
}

func newCollectionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List stored collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.readOpen(cmd.Context(), a.cfg.Store.Location)
			if errors.Is(err, storage.ErrStoreNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			infos, err := store.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, info := range infos {
				fmt.Fprintf(out, "%s\tdim=%d\tcount=%d\n", info.Name, info.Dimension, info.Count)
			}
			return nil
		},
	}
}

func printStats(out io.Writer, collection string, stored int, fallback bool, backupPath string) {
	fmt.Fprintf(out, "stored %d records in collection %q\n", stored, collection)
	if fallback {
		fmt.Fprintf(out, "WARNING: persistent store unavailable; records kept in memory and backed up to %s\n", backupPath)
	}
}

func printResults(out io.Writer, results []types.RetrievalResult) {
	for i, r := range results {
		distance := "n/a"
		if r.Distance != nil {
			distance = fmt.Sprintf("%.4f", *r.Distance)
		}
		fmt.Fprintf(out, "%d. %s (chunk %d, distance %s)\n", i+1, r.SourceLabel(), r.Metadata.ChunkIndex, distance)
		preview := []rune(strings.TrimSpace(r.Document))
		if len(preview) > 200 {
			preview = append(preview[:200], '…')
		}
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(string(preview), "\n", " "))
	}
}
