package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	// GraphQLSource is the synthetic name the GraphQL payload is stored under.
	GraphQLSource = "graphql"
	// GraphQLThreshold triggers the GraphQL probe when fewer REST endpoints
	// than this succeed.
	GraphQLThreshold = 3
)

// executionQuery requests execution -> journey -> checkpoints -> steps.
const executionQuery = `
query GetExecutionData($executionId: ID!, $journeyId: ID!) {
    execution(id: $executionId) {
        id
        status
        startTime
        endTime
        journey(id: $journeyId) {
            id
            name
            checkpoints {
                id
                name
                steps {
                    id
                    action
                    selector
                    value
                    status
                    duration
                }
            }
        }
    }
}
`

// Prober sweeps a catalog with a Fetcher and falls back to GraphQL when the
// REST surface yields too little.
type Prober struct {
	fetcher    *Fetcher
	ids        Identifiers
	graphqlURL string
	logger     *zap.Logger
}

// NewProber builds a Prober. An empty graphqlURL is derived from the
// fetcher's base URL.
func NewProber(fetcher *Fetcher, ids Identifiers, graphqlURL string, logger *zap.Logger) *Prober {
	if graphqlURL == "" {
		graphqlURL = GraphQLURL(fetcher.cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		fetcher:    fetcher,
		ids:        ids,
		graphqlURL: graphqlURL,
		logger:     logger,
	}
}

// Run fetches every catalog entry in order, then performs at most one
// GraphQL probe. The error is non-nil only when ctx ends; the aggregate
// returned alongside it holds whatever was collected so far.
func (p *Prober) Run(ctx context.Context, catalog Catalog) (*Aggregate, error) {
	agg := NewAggregate(p.ids)
	p.logger.Info("probing endpoints",
		zap.String("execution_id", p.ids.ExecutionID.String()),
		zap.String("journey_id", p.ids.JourneyID.String()),
		zap.String("project_id", p.ids.ProjectID.String()),
		zap.Int("endpoints", len(catalog)),
	)
	for _, endpoint := range catalog {
		outcome, err := p.fetcher.Fetch(ctx, endpoint)
		if err != nil {
			return agg, err
		}
		if outcome.Succeeded() {
			agg.RecordSuccess(endpoint.Name, outcome.Payload)
			continue
		}
		agg.RecordFailure(endpoint)
	}

	if len(agg.SuccessfulEndpoints) < GraphQLThreshold {
		if err := p.probeGraphQL(ctx, agg); err != nil {
			return agg, err
		}
	}
	p.logger.Info("probe sweep finished",
		zap.Int("succeeded", len(agg.SuccessfulEndpoints)),
		zap.Int("failed", len(agg.FailedEndpoints)),
	)
	return agg, nil
}

func (p *Prober) probeGraphQL(ctx context.Context, agg *Aggregate) error {
	body, err := json.Marshal(map[string]any{
		"query": executionQuery,
		"variables": map[string]any{
			"executionId": p.ids.ExecutionID,
			"journeyId":   p.ids.JourneyID,
		},
	})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	p.logger.Info("attempting graphql fallback",
		zap.String("url", p.graphqlURL),
		zap.Int("rest_successes", len(agg.SuccessfulEndpoints)),
	)
	payload, status, err := p.fetcher.post(ctx, p.graphqlURL, body)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("graphql probe: %w", ctxErr)
	}
	if err != nil {
		p.fetcher.observer.ObserveGraphQL(resultLabel(err))
		p.logger.Warn("graphql fallback failed", zap.Int("status", status), zap.Error(err))
		return nil
	}
	p.fetcher.observer.ObserveGraphQL(resultLabel(nil))
	agg.RecordSuccess(GraphQLSource, payload)
	p.logger.Info("graphql fallback succeeded")
	return nil
}

// GraphQLURL derives the GraphQL endpoint from the REST base URL: a trailing
// /api path segment becomes /graphql, otherwise /graphql is appended. Only
// the path is rewritten: the host is left as is even when it is named after
// the API (api-app2 stays api-app2). Set api.graphql_url to reach another host.
func GraphQLURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return JoinURL(baseURL, "/graphql")
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "/api" || strings.HasSuffix(p, "/api") {
		u.Path = strings.TrimSuffix(p, "/api") + "/graphql"
	} else {
		u.Path = p + "/graphql"
	}
	return u.String()
}
