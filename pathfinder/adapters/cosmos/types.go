package cosmos

import (
	"encoding/json"
	"time"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      uint64         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type broadcastResult struct {
	Code      uint32 `json:"code"`
	Data      string `json:"data"`
	Log       string `json:"log"`
	Codespace string `json:"codespace"`
	Hash      string `json:"hash"`
}

type abciQueryResult struct {
	Response abciQueryResponse `json:"response"`
}

type abciQueryResponse struct {
	Code   uint32 `json:"code"`
	Log    string `json:"log"`
	Value  []byte `json:"value"` // base64 in JSON
	Height string `json:"height"`
}

type commitResult struct {
	SignedHeader struct {
		Header blockHeader `json:"header"`
		Commit struct {
			BlockID struct {
				Hash string `json:"hash"`
			} `json:"block_id"`
		} `json:"commit"`
	} `json:"signed_header"`
	Canonical bool `json:"canonical"`
}

type blockHeader struct {
	ChainID     string    `json:"chain_id"`
	Height      string    `json:"height"`
	Time        time.Time `json:"time"`
	LastBlockID struct {
		Hash string `json:"hash"`
	} `json:"last_block_id"`
	DataHash        string `json:"data_hash"`
	AppHash         string `json:"app_hash"`
	LastResultsHash string `json:"last_results_hash"`
}

type statusResult struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
		CatchingUp        bool   `json:"catching_up"`
	} `json:"sync_info"`
}
