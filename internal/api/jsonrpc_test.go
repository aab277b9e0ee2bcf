package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pt "github.com/argenta/argenta-backend/internal/protocol/protocoltest"
)

type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *JSONRPCError   `json:"error"`
}

func (s *testServer) rpc(caller common.Address, body string) rpcResult {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/rpc", bytes.NewBufferString(body))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	require.Equal(s.t, http.StatusOK, resp.StatusCode)

	var out rpcResult
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestJSONRPC_Actions(t *testing.T) {
	s := newTestServer(t, 0)
	s.env.Fund(pt.Alice, s.env.WETH, pt.Units(1, 18))

	res := s.rpc(pt.Alice, `{"jsonrpc":"2.0","id":1,"method":"argenta_openVault"}`)
	require.Nil(t, res.Error)
	var opened OpenPositionResponse
	require.NoError(t, json.Unmarshal(res.Result, &opened))
	assert.EqualValues(t, 1, opened.ID)
	assert.JSONEq(t, `1`, string(res.ID))

	res = s.rpc(pt.Alice, `{"jsonrpc":"2.0","id":"a","method":"argenta_addCollateral","params":{"id":1,"asset":"WETH","amount":"1"}}`)
	require.Nil(t, res.Error)

	res = s.rpc(pt.Alice, `{"jsonrpc":"2.0","id":2,"method":"argenta_borrow","params":{"id":1,"amount":"5000"}}`)
	require.NotNil(t, res.Error)
	assert.Equal(t, -32008, res.Error.Code)
	assert.Equal(t, "UNDERCOLLATERALIZED", res.Error.Message)

	res = s.rpc(common.Address{}, `{"jsonrpc":"2.0","id":3,"method":"argenta_getPosition","params":{"id":1}}`)
	require.Nil(t, res.Error)
	var pos PositionDTO
	require.NoError(t, json.Unmarshal(res.Result, &pos))
	require.Len(t, pos.Collateral, 1)
	require.NotNil(t, pos.Health)
	assert.True(t, pos.Health.Debt.IsZero())

	assert.Equal(t, 1, s.metrics.count("addCollateral", "ok"))
}

func TestJSONRPC_Errors(t *testing.T) {
	s := newTestServer(t, 0)

	tests := []struct {
		name   string
		caller common.Address
		body   string
		code   int
	}{
		{"parse error", common.Address{}, `{`, JSONRPCParseError},
		{"wrong version", common.Address{}, `{"jsonrpc":"1.0","id":1,"method":"argenta_getProtocol"}`, JSONRPCInvalidRequest},
		{"unknown method", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"argenta_mint"}`, JSONRPCMethodNotFound},
		{"missing prefix", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"getProtocol"}`, JSONRPCMethodNotFound},
		{"bad params", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"argenta_getPosition","params":{"id":"x"}}`, JSONRPCInvalidParams},
		{"no caller", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"argenta_openVault"}`, -32001},
		{"not found", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"argenta_getPosition","params":{"id":9}}`, -32003},
		{"malformed address", common.Address{}, `{"jsonrpc":"2.0","id":1,"method":"argenta_getPositions","params":{"owner":"bob"}}`, JSONRPCInvalidParams},
		{"liquidate unknown position", pt.Bob, `{"jsonrpc":"2.0","id":1,"method":"argenta_liquidate","params":{"id":9}}`, -32003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.rpc(tt.caller, tt.body)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)
		})
	}
}

func TestJSONRPC_ReadsProtocol(t *testing.T) {
	s := newTestServer(t, 0)
	res := s.rpc(common.Address{}, `{"jsonrpc":"2.0","id":7,"method":"argenta_getPrice","params":{"asset":"WBTC"}}`)
	require.Nil(t, res.Error)
	var price PriceDTO
	require.NoError(t, json.Unmarshal(res.Result, &price))
	assert.Equal(t, "60000", price.Display.String())
}
