// Package ingest normalizes parsed owner records for one company page and
// persists them as entities and ownership edges.
package ingest

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/metrics"
	"github.com/sells-group/fin-groups/internal/store"
)

// Config controls how records are keyed and attributed.
type Config struct {
	Country           string   `yaml:"country" mapstructure:"country"`
	Source            string   `yaml:"source" mapstructure:"source"`
	CompanyURL        string   `yaml:"company_url" mapstructure:"company_url"`
	DomesticCountries []string `yaml:"domestic_countries" mapstructure:"domestic_countries"`
}

// DefaultConfig matches the opendatabot.ua company pages.
func DefaultConfig() Config {
	return Config{
		Country:           "UA",
		Source:            "opendatabot",
		CompanyURL:        "https://opendatabot.ua/c/%s",
		DomesticCountries: []string{"Україна", "Ukraine", "UA"},
	}
}

// Result summarizes one IngestCompany call.
type Result struct {
	RunID     string   `json:"run_id"`
	CompanyID string   `json:"company_id"`
	Owners    int      `json:"owners"`
	Inserted  int      `json:"inserted"`
	Ignored   int      `json:"ignored"`
	Enqueued  []string `json:"enqueued"`
}

// Ingester writes parsed company pages into a store.
type Ingester struct {
	store   store.Store
	cfg     Config
	metrics *metrics.Metrics
}

// New creates an Ingester. m may be nil.
func New(st store.Store, cfg Config, m *metrics.Metrics) *Ingester {
	return &Ingester{store: st, cfg: cfg, metrics: m}
}

type owner struct {
	entity entity.Entity
	edge   entity.Ownership
}

// IngestCompany stores the company identified by taxID together with its
// owner records in a single transaction, then marks the company crawled at
// depth and enqueues newly seen company owners at depth+1.
func (i *Ingester) IngestCompany(ctx context.Context, taxID string, depth int, records []entity.Record) (*Result, error) {
	if taxID == "" {
		return nil, eris.Wrap(entity.ErrInvalid, "ingest: tax id is required")
	}

	runID := uuid.New().String()
	log := zap.L().With(zap.String("run_id", runID), zap.String("tax_id", taxID))

	companyURL := fmt.Sprintf(i.cfg.CompanyURL, taxID)
	company := entity.Entity{
		ID:        entity.CompanyID(i.cfg.Country, taxID),
		Type:      entity.TypeCompany,
		Name:      "Company " + taxID,
		Country:   i.cfg.Country,
		TaxID:     taxID,
		SourceURL: companyURL,
	}

	owners := make([]owner, 0, len(records))
	for n, r := range records {
		if r.Name == "" {
			return nil, eris.Wrapf(entity.ErrInvalid, "ingest: record %d has no name", n)
		}
		e := i.ownerEntity(r)
		owners = append(owners, owner{
			entity: e,
			edge: entity.Ownership{
				OwnerID:      e.ID,
				OwnedID:      company.ID,
				Role:         r.Role,
				SharePercent: r.SharePercent,
				CapitalUAH:   r.AmountUAH,
				ControlLevel: ClassifyRole(r.Role),
				Source:       i.cfg.Source,
				SourceURL:    companyURL,
			},
		})
	}

	res := &Result{RunID: runID, CompanyID: company.ID, Owners: len(owners), Enqueued: []string{}}
	err := i.store.WithTx(ctx, func(tx store.Store) error {
		res.Inserted, res.Ignored = 0, 0
		if err := tx.UpsertEntity(ctx, company); err != nil {
			return err
		}
		for _, o := range owners {
			if err := tx.UpsertEntity(ctx, o.entity); err != nil {
				return err
			}
			inserted, err := tx.UpsertOwnership(ctx, o.edge)
			if err != nil {
				return err
			}
			if inserted {
				res.Inserted++
			} else {
				res.Ignored++
			}
		}
		return nil
	})
	if err != nil {
		log.Error("ingest: company failed", zap.Error(err))
		return nil, eris.Wrapf(err, "ingest: company %s", taxID)
	}

	i.metrics.IncEntityUpsert(string(entity.TypeCompany))
	for _, o := range owners {
		i.metrics.IncEntityUpsert(string(o.entity.Type))
	}
	for range res.Inserted {
		i.metrics.IncOwnership(true)
	}
	for range res.Ignored {
		i.metrics.IncOwnership(false)
	}

	if err := i.store.UpdateCrawlState(ctx, company.ID, entity.TypeCompany, entity.CrawlDone, depth); err != nil {
		return nil, eris.Wrapf(err, "ingest: mark %s done", company.ID)
	}
	for _, o := range owners {
		if o.entity.Type != entity.TypeCompany || slices.Contains(res.Enqueued, o.entity.ID) {
			continue
		}
		queued, err := i.enqueue(ctx, o.entity.ID, depth+1)
		if err != nil {
			return nil, err
		}
		if queued {
			res.Enqueued = append(res.Enqueued, o.entity.ID)
		}
	}

	log.Info("ingest: company stored",
		zap.String("company_id", company.ID),
		zap.Int("owners", res.Owners),
		zap.Int("inserted", res.Inserted),
		zap.Int("ignored", res.Ignored),
		zap.Int("enqueued", len(res.Enqueued)),
	)
	return res, nil
}

// enqueue adds id to the frontier unless it already has a crawl state.
func (i *Ingester) enqueue(ctx context.Context, id string, depth int) (bool, error) {
	cs, err := i.store.GetCrawlState(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "ingest: crawl state %s", id)
	}
	if cs != nil {
		return false, nil
	}
	if err := i.store.UpdateCrawlState(ctx, id, entity.TypeCompany, entity.CrawlPending, depth); err != nil {
		return false, eris.Wrapf(err, "ingest: enqueue %s", id)
	}
	return true, nil
}

// ownerEntity resolves the identity of a record's owner. A profile link means
// a natural person; otherwise the owner is a company keyed by name within its
// country, with domestic and unknown countries mapped to the configured one.
func (i *Ingester) ownerEntity(r entity.Record) entity.Entity {
	if r.ProfileLink != "" {
		return entity.Entity{
			ID:        entity.PersonID(r.ProfileLink),
			Type:      entity.TypePerson,
			Name:      r.Name,
			Country:   r.Country,
			SourceURL: r.ProfileLink,
		}
	}
	country := i.cfg.Country
	if r.Country != "" && !slices.Contains(i.cfg.DomesticCountries, r.Country) {
		country = r.Country
	}
	return entity.Entity{
		ID:      entity.ForeignCompanyID(r.Name, country),
		Type:    entity.TypeCompany,
		Name:    r.Name,
		Country: r.Country,
	}
}

// LoadRecords decodes a JSON or YAML array of owner records.
func LoadRecords(r io.Reader) ([]entity.Record, error) {
	var records []entity.Record
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if eris.Is(err, io.EOF) {
			return []entity.Record{}, nil
		}
		return nil, eris.Wrap(err, "ingest: decode records")
	}
	if records == nil {
		records = []entity.Record{}
	}
	return records, nil
}
