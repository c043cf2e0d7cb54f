package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var routerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	routerLog = zerolog.New(out).With().Timestamp().Str("component", "router").Logger()
}

const tracerName = "github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"

var (
	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spectra",
		Subsystem: "router",
		Name:      "intents_total",
		Help:      "Intents handled by the router, by operation and outcome.",
	}, []string{"operation", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spectra",
		Subsystem: "router",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"stage"})
)

// Signer turns a plan into the signed transaction bytes the destination adapter
// submits. Keys never pass through the router.
type Signer func(ctx context.Context, plan *models.IntentPlan) ([]byte, error)

// Submission is the outcome of SubmitIntent.
type Submission struct {
	Plan *models.IntentPlan
	TxID string
}

// Router composes the routing engine, the chain adapters and the light-client
// manager into the intent pipeline: route, look up the destination adapter,
// translate. Every error it returns carries the stage that produced it.
type Router struct {
	engine   *Engine
	adapters *adapters.Registry
	manager  *lightclient.Manager
	tracer   trace.Tracer
}

// New creates a router. manager may be nil when no light clients are kept.
func New(engine *Engine, registry *adapters.Registry, manager *lightclient.Manager) *Router {
	if engine == nil {
		engine = NewEngine()
	}
	if registry == nil {
		registry = adapters.NewRegistry()
	}
	return &Router{
		engine:   engine,
		adapters: registry,
		manager:  manager,
		tracer:   otel.Tracer(tracerName),
	}
}

func (r *Router) Engine() *Engine { return r.engine }

func (r *Router) Adapters() *adapters.Registry { return r.adapters }

func (r *Router) Manager() *lightclient.Manager { return r.manager }

// RegisterAdapter adds a chain adapter under its chain name.
func (r *Router) RegisterAdapter(a adapters.ChainAdapter) error {
	return r.adapters.Register(a)
}

// Routes lists every simple route from one chain to another within maxHops.
func (r *Router) Routes(from, to string, maxHops int) ([]*models.Route, error) {
	routes, err := r.engine.GetAllRoutes(from, to, maxHops)
	return routes, models.AtStage(models.StageRouting, err)
}

// RouteIntent finds the cheapest route for in and translates it for the chain the
// route ends on.
func (r *Router) RouteIntent(ctx context.Context, in models.Intent) (*models.IntentPlan, error) {
	ctx, span := r.tracer.Start(ctx, "router.RouteIntent", trace.WithAttributes(intentAttributes(in)...))
	defer span.End()

	plan, _, err := r.plan(ctx, in)
	finish(span, "route", err)
	return plan, err
}

// SubmitIntent plans in, has sign produce the transaction and hands it to the
// destination adapter. A nil sign submits the translated payload unchanged.
func (r *Router) SubmitIntent(ctx context.Context, in models.Intent, sign Signer) (*Submission, error) {
	ctx, span := r.tracer.Start(ctx, "router.SubmitIntent", trace.WithAttributes(intentAttributes(in)...))
	defer span.End()

	sub, err := r.submit(ctx, in, sign)
	finish(span, "submit", err)
	return sub, err
}

func (r *Router) submit(ctx context.Context, in models.Intent, sign Signer) (*Submission, error) {
	plan, adapter, err := r.plan(ctx, in)
	if err != nil {
		return nil, err
	}

	var txID string
	err = r.stage(ctx, models.StageSubmission, func(ctx context.Context) error {
		payload := plan.Translated.Payload
		if sign != nil {
			signed, err := sign(ctx, plan)
			if err != nil {
				return err
			}
			payload = signed
		}
		var err error
		txID, err = adapter.SubmitTransaction(ctx, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	routerLog.Info().Str("intent", plan.IntentID).Str("chain", adapter.ChainName()).Str("tx", txID).Msg("Intent submitted")
	return &Submission{Plan: plan, TxID: txID}, nil
}

// VerifyRemoteState checks a state proof with the adapter of chain.
func (r *Router) VerifyRemoteState(ctx context.Context, chain string, proof []byte) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "router.VerifyRemoteState", trace.WithAttributes(attribute.String("chain", chain)))
	defer span.End()

	var ok bool
	var adapter adapters.ChainAdapter
	err := r.stage(ctx, models.StageAdapterLookup, func(context.Context) error {
		var err error
		adapter, err = r.adapters.Lookup(chain)
		return err
	})
	if err == nil {
		err = r.stage(ctx, models.StageVerification, func(ctx context.Context) error {
			var err error
			ok, err = adapter.VerifyState(ctx, proof)
			return err
		})
	}
	span.SetAttributes(attribute.Bool("verified", ok))
	finish(span, "verify", err)
	return ok, err
}

// plan runs the routing, adapter lookup and translation stages.
func (r *Router) plan(ctx context.Context, in models.Intent) (*models.IntentPlan, adapters.ChainAdapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, models.AtStage(models.StageRouting, err)
	}

	var route *models.Route
	err := r.stage(ctx, models.StageRouting, func(context.Context) error {
		var err error
		route, err = r.engine.FindRoute(in)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var adapter adapters.ChainAdapter
	err = r.stage(ctx, models.StageAdapterLookup, func(context.Context) error {
		var err error
		adapter, err = r.adapters.Lookup(route.Destination())
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var translated *models.TranslatedIntent
	err = r.stage(ctx, models.StageTranslation, func(ctx context.Context) error {
		var err error
		translated, err = adapter.TranslateIntent(ctx, in)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if fp, err := intent.Fingerprint(in); err == nil {
		routerLog.Debug().Str("intent", in.ID()).Str("fingerprint", fp).Str("route", route.String()).Msg("Intent planned")
	}
	return &models.IntentPlan{IntentID: in.ID(), Route: route, Translated: translated}, adapter, nil
}

// stage runs fn in a child span, times it and tags its error with the stage.
func (r *Router) stage(ctx context.Context, stage models.Stage, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "router."+string(stage))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.AtStage(stage, err)
	}
	return nil
}

func intentAttributes(in models.Intent) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("intent.id", in.ID()),
		attribute.String("intent.from", in.FromChain()),
		attribute.String("intent.to", in.ToChain()),
		attribute.String("intent.action", in.Action()),
	}
}

// finish records the outcome of an operation on its span and in the counters.
func finish(span trace.Span, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		routerLog.Warn().Err(err).Str("operation", operation).Str("outcome", outcome).Msg("Intent pipeline failed")
	}
	intentsTotal.WithLabelValues(operation, outcome).Inc()
}

func outcomeOf(err error) string {
	var se *models.StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s:%s", se.Stage, models.KindOf(err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return models.KindOf(err).String()
}
