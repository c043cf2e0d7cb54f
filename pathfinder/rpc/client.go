package rpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls an intent service over the connect protocol with the JSON codec.
type Client struct {
	routeIntent       *connect.Client[RouteIntentRequest, RouteIntentResponse]
	submitIntent      *connect.Client[SubmitIntentRequest, SubmitIntentResponse]
	verifyState       *connect.Client[VerifyStateRequest, VerifyStateResponse]
	listRoutes        *connect.Client[ListRoutesRequest, ListRoutesResponse]
	listChains        *connect.Client[ListChainsRequest, ListChainsResponse]
	lightClientStatus *connect.Client[LightClientStatusRequest, LightClientStatusResponse]
	queryBalance      *connect.Client[QueryBalanceRequest, QueryBalanceResponse]
}

// NewClient creates a client for the service at baseURL, e.g. "http://localhost:8080".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		routeIntent:       connect.NewClient[RouteIntentRequest, RouteIntentResponse](httpClient, baseURL+RouteIntentProcedure, opts...),
		submitIntent:      connect.NewClient[SubmitIntentRequest, SubmitIntentResponse](httpClient, baseURL+SubmitIntentProcedure, opts...),
		verifyState:       connect.NewClient[VerifyStateRequest, VerifyStateResponse](httpClient, baseURL+VerifyStateProcedure, opts...),
		listRoutes:        connect.NewClient[ListRoutesRequest, ListRoutesResponse](httpClient, baseURL+ListRoutesProcedure, opts...),
		listChains:        connect.NewClient[ListChainsRequest, ListChainsResponse](httpClient, baseURL+ListChainsProcedure, opts...),
		lightClientStatus: connect.NewClient[LightClientStatusRequest, LightClientStatusResponse](httpClient, baseURL+LightClientStatusProcedure, opts...),
		queryBalance:      connect.NewClient[QueryBalanceRequest, QueryBalanceResponse](httpClient, baseURL+QueryBalanceProcedure, opts...),
	}
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) RouteIntent(ctx context.Context, req *RouteIntentRequest) (*RouteIntentResponse, error) {
	return unary(ctx, c.routeIntent, req)
}

func (c *Client) SubmitIntent(ctx context.Context, req *SubmitIntentRequest) (*SubmitIntentResponse, error) {
	return unary(ctx, c.submitIntent, req)
}

func (c *Client) VerifyState(ctx context.Context, req *VerifyStateRequest) (*VerifyStateResponse, error) {
	return unary(ctx, c.verifyState, req)
}

func (c *Client) ListRoutes(ctx context.Context, req *ListRoutesRequest) (*ListRoutesResponse, error) {
	return unary(ctx, c.listRoutes, req)
}

func (c *Client) ListChains(ctx context.Context) (*ListChainsResponse, error) {
	return unary(ctx, c.listChains, &ListChainsRequest{})
}

func (c *Client) LightClientStatus(ctx context.Context, chainID string) (*LightClientStatusResponse, error) {
	return unary(ctx, c.lightClientStatus, &LightClientStatusRequest{ChainID: chainID})
}

func (c *Client) QueryBalance(ctx context.Context, req *QueryBalanceRequest) (*QueryBalanceResponse, error) {
	return unary(ctx, c.queryBalance, req)
}
