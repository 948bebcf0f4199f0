package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/backoffice/ledger"
)

func TestListScenarios(t *testing.T) {
	_, router := devAPI(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil, asRole("staff"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarios))
	for _, s := range list {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description)
	}
}

func TestLoadScenario(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			// GIVEN: an empty store
			h, router := devAPI(t)

			// WHEN: the scenario loads
			rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			// THEN: it is current and produced products
			rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)

			products, err := h.Inventory.List(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, products)
		})
	}
}

func TestLoadScenario_Twice(t *testing.T) {
	h, router := devAPI(t)

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "counter-sales"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	products, err := h.Inventory.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 6)

	// Both loads went through the primitives, so nothing drifted.
	rep, err := h.Reconciler.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK())
}

func TestLoadScenario_PurchaseReceiving(t *testing.T) {
	h, router := devAPI(t)
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "purchase-receiving"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	products, err := h.Inventory.List(context.Background())
	require.NoError(t, err)
	stock := map[string]int64{}
	for _, p := range products {
		stock[p.Name] = p.QuantityInStock
	}
	assert.Equal(t, int64(60), stock["Oak Moulding (m)"])
	assert.Equal(t, int64(5), stock["White Mat Board"])

	movements, err := h.Inventory.Movements(context.Background(), ledger.MovementFilter{Reason: ledger.ReasonPurchaseReceive})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, router := devAPI(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assertError(t, rec, http.StatusBadRequest, CodeValidation)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{})
	assertError(t, rec, http.StatusBadRequest, CodeValidation)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "counter-sales"}, asRole("manager"))
	assertError(t, rec, http.StatusForbidden, CodeForbidden)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(trimNewline(rec.Body.Bytes())))
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	return b
}
