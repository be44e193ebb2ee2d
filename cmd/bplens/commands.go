package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cognicore/bplens/internal/forum"
	"github.com/cognicore/bplens/pkg/bplens"
	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

func (a *app) importCmd() *cobra.Command {
	var dataPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load scraped topics, posts and blueprints from a JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				stats, err := a.importFile(ctx, e, dataPath)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "input JSONL file (required)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) importFile(ctx context.Context, e *bplens.Engine, path string) (bplens.PassStats, error) {
	topics, err := forum.LoadFromJSONL(path, a.logger)
	if err != nil {
		return bplens.PassStats{}, err
	}
	return e.Import(ctx, topics)
}

// passCmd wraps a single engine pass.
func (a *app) passCmd(use, short string, pass func(*bplens.Engine) func(context.Context) (bplens.PassStats, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				stats, err := pass(e)(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func (a *app) keywordsCmd() *cobra.Command {
	return a.passCmd("keywords", "Count trigger, condition and action keywords of every blueprint",
		func(e *bplens.Engine) func(context.Context) (bplens.PassStats, error) {
			return e.UpdateBlueprintKeywords
		})
}

func (a *app) topicsCmd() *cobra.Command {
	return a.passCmd("topics", "Rank each topic's own phrases and store them as topic keywords",
		func(e *bplens.Engine) func(context.Context) (bplens.PassStats, error) {
			return e.UpdateTopicKeywordsExtractive
		})
}

func (a *app) tfidfCmd() *cobra.Command {
	return a.passCmd("tfidf", "Weigh topic terms against the whole forum and store the top terms",
		func(e *bplens.Engine) func(context.Context) (bplens.PassStats, error) {
			return e.UpdateTopicKeywordsTFIDF
		})
}

func (a *app) indexCmd() *cobra.Command {
	return a.passCmd("index", "Rebuild the full-text index of every blueprint",
		func(e *bplens.Engine) func(context.Context) (bplens.PassStats, error) { return e.IndexFTS })
}

func (a *app) runCmd() *cobra.Command {
	var dataPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keyword, phrase and TF-IDF passes in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				var all []bplens.PassStats
				if dataPath != "" {
					stats, err := a.importFile(ctx, e, dataPath)
					if err != nil {
						return err
					}
					all = append(all, stats)
				}
				passes, err := e.Run(ctx)
				all = append(all, passes...)
				if err != nil {
					return err
				}
				return printJSON(cmd, all)
			})
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "import this JSONL file first")
	return cmd
}

func (a *app) similarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity TOPIC_ID",
		Short: "Score the structural similarity of every blueprint pair in a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				results, err := e.CompareTopic(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			})
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query the full-text index or keyword counts",
	}

	var (
		column    string
		textLimit int
	)
	fts := &cobra.Command{
		Use:   "text QUERY",
		Short: "Full-text search in one column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				hits, err := e.Search(ctx, store.FTSColumn(column), args[0], textLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, hits)
			})
		},
	}
	fts.Flags().StringVar(&column, "column", string(store.ColumnExpanded), "column to search")
	fts.Flags().IntVar(&textLimit, "limit", store.DefaultSearchLimit, "maximum results")

	var (
		inputQuery, outputQuery string
		sectionLimit            int
	)
	sections := &cobra.Command{
		Use:   "sections",
		Short: "Match trigger and condition text against --input and action text against --output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				hits, err := e.SearchSections(ctx, inputQuery, outputQuery, sectionLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, hits)
			})
		},
	}
	sections.Flags().StringVar(&inputQuery, "input", "", "text to find in triggers and conditions")
	sections.Flags().StringVar(&outputQuery, "output", "", "text to find in actions")
	sections.Flags().IntVar(&sectionLimit, "limit", store.DefaultSearchLimit, "maximum results")

	var q store.KeywordQuery
	var inOp, outOp string
	kw := &cobra.Command{
		Use:   "keywords",
		Short: "Filter blueprints by input and output keyword counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q.InputOp, q.OutputOp = store.Operator(inOp), store.Operator(outOp)
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				bps, err := e.SearchKeywords(ctx, q)
				if err != nil {
					return err
				}
				out := make([]keywordHit, len(bps))
				for i, bp := range bps {
					out[i] = keywordHit{ID: bp.ID, Name: bp.Name, TopicTitle: bp.TopicTitle, Keywords: bp.Keywords}
				}
				return printJSON(cmd, out)
			})
		},
	}
	kw.Flags().StringVar(&q.InputKeyword, "input", "", "input keyword, e.g. binary_sensor")
	kw.Flags().StringVar(&inOp, "input-op", ">", "comparison for the input count: >, == or <")
	kw.Flags().IntVar(&q.InputCount, "input-count", 0, "input count to compare with")
	kw.Flags().StringVar(&q.OutputKeyword, "output", "", "output keyword, e.g. light")
	kw.Flags().StringVar(&outOp, "output-op", ">", "comparison for the output count: >, == or <")
	kw.Flags().IntVar(&q.OutputCount, "output-count", 0, "output count to compare with")
	kw.Flags().IntVar(&q.Limit, "limit", store.DefaultSearchLimit, "maximum results")

	cmd.AddCommand(fts, sections, kw)
	return cmd
}

type keywordHit struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	TopicTitle string         `json:"topic_title"`
	Keywords   map[string]int `json:"keywords"`
}

type fileValidation struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Language string   `json:"language,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE...]",
		Short: "Check blueprints against the blueprint schema",
		Long: `Without arguments every stored blueprint is checked. With arguments the
given YAML files are checked instead and the store is not opened.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return a.validateFiles(cmd, args)
			}
			return a.withEngine(cmd, func(ctx context.Context, e *bplens.Engine) error {
				results, err := e.ValidateBlueprints(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			})
		},
	}
}

func (a *app) validateFiles(cmd *cobra.Command, files []string) error {
	parser, err := blueprint.NewParser(blueprint.WithLogger(a.logger))
	if err != nil {
		return err
	}
	results := make([]fileValidation, 0, len(files))
	invalid := 0
	for _, path := range files {
		res := fileValidation{File: path}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree, err := parser.Parse(string(data))
		if err != nil {
			res.Errors = []string{err.Error()}
		} else {
			v := blueprint.Validate(tree)
			res.Valid, res.Errors = v.Valid, v.Errors
			res.Language = blueprint.Language(tree)
		}
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
	}
	if err := printJSON(cmd, results); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d blueprints are invalid", invalid, len(files))
	}
	return nil
}
