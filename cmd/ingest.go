package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store parsed owner records for a company",
	Long: `Reads a JSON or YAML array of owner records and stores the company, its owners and
the ownership edges in one transaction. With --dir, every <tax-id>.json|.yaml|.yml file in
the directory is ingested.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		ctx := cmd.Context()

		taxID, _ := cmd.Flags().GetString("tax-id")
		file, _ := cmd.Flags().GetString("file")
		dir, _ := cmd.Flags().GetString("dir")
		depth, _ := cmd.Flags().GetInt("depth")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		var pages []recordFile
		switch {
		case dir != "":
			var err error
			if pages, err = loadRecordDir(dir, concurrency); err != nil {
				return err
			}
		case taxID != "" && file != "":
			records, err := loadRecordFile(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			pages = []recordFile{{TaxID: taxID, Records: records}}
		default:
			return eris.New("either --tax-id with --file, or --dir is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ing := ingest.New(st, ingestConfig(), nil)
		results := make([]*ingest.Result, 0, len(pages))
		for _, p := range pages {
			res, err := ing.IngestCompany(ctx, p.TaxID, depth, p.Records)
			if err != nil {
				return err
			}
			results = append(results, res)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

type recordFile struct {
	TaxID   string
	Records []entity.Record
}

// loadRecordFile reads records from path, or from stdin when path is "-".
func loadRecordFile(stdin io.Reader, path string) ([]entity.Record, error) {
	if path == "-" {
		return ingest.LoadRecords(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	records, err := ingest.LoadRecords(f)
	return records, eris.Wrapf(err, "load %s", path)
}

// loadRecordDir parses every record file in dir concurrently. Results are
// ordered by tax id.
func loadRecordDir(dir string, concurrency int) ([]recordFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	out := make([]recordFile, len(paths))
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		g.Go(func() error {
			records, err := loadRecordFile(nil, path)
			if err != nil {
				return err
			}
			base := filepath.Base(path)
			out[i] = recordFile{
				TaxID:   strings.TrimSuffix(base, filepath.Ext(base)),
				Records: records,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("ingest: loaded record files", zap.String("dir", dir), zap.Int("files", len(out)))
	return out, nil
}

func init() {
	ingestCmd.Flags().String("tax-id", "", "registry code of the company the records belong to")
	ingestCmd.Flags().String("file", "", "record file (JSON or YAML), or - for stdin")
	ingestCmd.Flags().String("dir", "", "directory of <tax-id>.json|.yaml files")
	ingestCmd.Flags().Int("depth", 0, "crawl depth of the company")
	ingestCmd.Flags().Int("concurrency", 4, "parallel file parsers for --dir")
	rootCmd.AddCommand(ingestCmd)
}
