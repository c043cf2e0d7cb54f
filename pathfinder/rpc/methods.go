package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"
)

// ServiceName is the fully qualified name of the intent service.
const ServiceName = "spectra.intents.v1.IntentService"

// Procedures served by IntentServer.
const (
	RouteIntentProcedure       = "/" + ServiceName + "/RouteIntent"
	SubmitIntentProcedure      = "/" + ServiceName + "/SubmitIntent"
	VerifyStateProcedure       = "/" + ServiceName + "/VerifyState"
	ListRoutesProcedure        = "/" + ServiceName + "/ListRoutes"
	ListChainsProcedure        = "/" + ServiceName + "/ListChains"
	LightClientStatusProcedure = "/" + ServiceName + "/LightClientStatus"
	QueryBalanceProcedure      = "/" + ServiceName + "/QueryBalance"
)

// StageHeader names the pipeline stage of a failed call in the error metadata.
const StageHeader = "Spectra-Stage"

// DefaultMaxHops bounds ListRoutes when the request sets no limit.
const DefaultMaxHops = 4

// IntentServer serves the router over connect.
type IntentServer struct {
	router     *router.Router
	translator *intent.Translator
}

// NewIntentServer creates a server. translator may be nil; it is only used to
// render fees and balances in whole units.
func NewIntentServer(r *router.Router, translator *intent.Translator) *IntentServer {
	return &IntentServer{router: r, translator: translator}
}

func (s *IntentServer) RouteIntent(
	ctx context.Context,
	req *connect.Request[RouteIntentRequest],
) (*connect.Response[RouteIntentResponse], error) {
	in, err := req.Msg.Intent.toIntent()
	if err != nil {
		return nil, toConnectError(err)
	}
	plan, err := s.router.RouteIntent(ctx, in)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RouteIntentResponse{Plan: convertPlan(plan, s.translator)}), nil
}

func (s *IntentServer) SubmitIntent(
	ctx context.Context,
	req *connect.Request[SubmitIntentRequest],
) (*connect.Response[SubmitIntentResponse], error) {
	in, err := req.Msg.Intent.toIntent()
	if err != nil {
		return nil, toConnectError(err)
	}
	var sign router.Signer
	if signed := req.Msg.SignedTx; len(signed) > 0 {
		sign = func(context.Context, *models.IntentPlan) ([]byte, error) { return signed, nil }
	}
	sub, err := s.router.SubmitIntent(ctx, in, sign)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SubmitIntentResponse{TxID: sub.TxID, Plan: convertPlan(sub.Plan, s.translator)}), nil
}

func (s *IntentServer) VerifyState(
	ctx context.Context,
	req *connect.Request[VerifyStateRequest],
) (*connect.Response[VerifyStateResponse], error) {
	ok, err := s.router.VerifyRemoteState(ctx, req.Msg.Chain, req.Msg.Proof)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VerifyStateResponse{Verified: ok}), nil
}

func (s *IntentServer) ListRoutes(
	_ context.Context,
	req *connect.Request[ListRoutesRequest],
) (*connect.Response[ListRoutesResponse], error) {
	maxHops := req.Msg.MaxHops
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	routes, err := s.router.Routes(req.Msg.From, req.Msg.To, maxHops)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListRoutesResponse{Routes: routes}), nil
}

func (s *IntentServer) ListChains(
	context.Context,
	*connect.Request[ListChainsRequest],
) (*connect.Response[ListChainsResponse], error) {
	chains := convertChains(s.router.Engine().Chains(), s.router.Adapters().Chains())
	return connect.NewResponse(&ListChainsResponse{Chains: chains}), nil
}

func (s *IntentServer) LightClientStatus(
	_ context.Context,
	req *connect.Request[LightClientStatusRequest],
) (*connect.Response[LightClientStatusResponse], error) {
	manager := s.router.Manager()
	if manager == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("no light clients are kept"))
	}
	client, err := manager.GetClient(req.Msg.ChainID)
	if err != nil {
		return nil, toConnectError(err)
	}
	if _, ok := client.LatestHeight(); !ok {
		return nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("light client for %s has no trusted header yet", req.Msg.ChainID))
	}
	latest := client.Latest()
	return connect.NewResponse(&LightClientStatusResponse{
		ChainID:   client.ChainID(),
		Height:    latest.Number,
		Hash:      client.LatestHash().Hex(),
		StateRoot: latest.StateRoot.Hex(),
		Timestamp: time.Unix(int64(latest.Timestamp), 0).UTC(),
	}), nil
}

func (s *IntentServer) QueryBalance(
	ctx context.Context,
	req *connect.Request[QueryBalanceRequest],
) (*connect.Response[QueryBalanceResponse], error) {
	adapter, err := s.router.Adapters().Lookup(req.Msg.Chain)
	if err != nil {
		return nil, toConnectError(err)
	}
	balance, err := adapter.QueryBalance(ctx, req.Msg.Address, req.Msg.Asset)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &QueryBalanceResponse{Balance: balance.Dec()}
	// only the native asset has known decimals
	if s.translator != nil && req.Msg.Asset == "" {
		if d, ok := s.translator.Chain(req.Msg.Chain); ok {
			resp.Formatted = intent.FormatAmount(balance, d.Decimals)
		}
	}
	return connect.NewResponse(resp), nil
}

// toConnectError maps error kinds to connect codes and carries the failing
// stage, when known, in the error metadata.
func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		switch models.KindOf(err) {
		case models.KindUnsupportedChain:
			code = connect.CodeNotFound
		case models.KindTranslation, models.KindInvalidProof:
			code = connect.CodeInvalidArgument
		case models.KindRouting:
			code = connect.CodeNotFound
			if !router.IsNoPath(err) {
				code = connect.CodeInvalidArgument
			}
		case models.KindVerification:
			code = connect.CodeFailedPrecondition
		case models.KindNetwork:
			code = connect.CodeUnavailable
		default:
			code = connect.CodeInternal
		}
	}
	cerr := connect.NewError(code, err)
	var se *models.StageError
	if errors.As(err, &se) {
		cerr.Meta().Set(StageHeader, string(se.Stage))
	}
	return cerr
}
