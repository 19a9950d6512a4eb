package crawler

import (
	"fmt"
	"strings"
	"time"

	"globalpass/esimworker/config"
	"globalpass/esimworker/internal/model"
	"globalpass/esimworker/logger"
	"globalpass/esimworker/pkg/errors"
)

const defaultBlockTime = 500 * time.Second

// SourceConfig contains configuration for a source
type SourceConfig struct {
	ID          string
	Provider    string
	URLTemplate string
	Strategy    string
	Selectors   Selectors
	BlockTime   time.Duration
}

// CreateSources creates all the sources based on the configuration
func CreateSources(cfg *config.Config) ([]Source, error) {
	configurations := []SourceConfig{
		{
			// Primary seller
			ID:          "airalo",
			Provider:    "Airalo",
			URLTemplate: cfg.AiraloURL,
			Strategy:    cfg.AiraloStrategy,
			BlockTime:   defaultBlockTime,
		},
		{
			// Reseller
			ID:          "nomad",
			Provider:    "Nomad",
			URLTemplate: cfg.NomadURL,
			Strategy:    cfg.NomadStrategy,
			BlockTime:   defaultBlockTime,
		},
	}

	sources := make([]Source, 0, len(configurations))
	for _, sc := range configurations {
		src, err := NewSource(sc)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)

		logger.ForSource(src.ID).Debug().
			Str("strategy", src.Extractor.Strategy()).
			Str("url", src.URLTemplate).
			Msg("Source created")
	}

	return sources, nil
}

// NewSource builds a source and its extractor
func NewSource(sc SourceConfig) (Source, error) {
	if sc.URLTemplate == "" {
		return Source{}, errors.NewConfiguration(fmt.Sprintf("source %s has no URL", sc.ID), nil)
	}

	extractor, err := NewExtractor(sc.Strategy, sc.Selectors)
	if err != nil {
		return Source{}, errors.NewConfiguration(fmt.Sprintf("source %s", sc.ID), err)
	}

	return Source{
		ID:          sc.ID,
		Provider:    sc.Provider,
		URLTemplate: sc.URLTemplate,
		Extractor:   extractor,
		BlockTime:   sc.BlockTime,
	}, nil
}

// FilterSources keeps only the source with the given id, or all when id is empty
func FilterSources(sources []Source, id string) []Source {
	if id == "" {
		return sources
	}

	var out []Source
	for _, s := range sources {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

// FilterCountries keeps only the country named name, ignoring case, or all when name is empty
func FilterCountries(countries []model.Country, name string) []model.Country {
	if name == "" {
		return countries
	}

	var out []model.Country
	for _, c := range countries {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			out = append(out, c)
		}
	}
	return out
}
