package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serverAddress = "http://localhost:8080"

var pairs = []struct {
	quote string
	base  string
}{
	{"USDC", "POI"},
	{"USDT", "POI"},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// apiEnvelope mirrors the server's standard response shape.
type apiEnvelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient drives the market ledger API end to end.
type simulationClient struct {
	http *resty.Client
}

func newSimulationClient() (*simulationClient, error) {
	client := resty.New().
		SetBaseURL(serverAddress).
		SetTimeout(10 * time.Second)

	sc := &simulationClient{http: client}
	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *simulationClient) authenticate() error {
	var envelope apiEnvelope
	resp, err := sc.http.R().
		SetBody(map[string]string{
			"api_key":    "test-api-key",
			"api_secret": "test-api-secret",
		}).
		SetResult(&envelope).
		Post("/api/v1/auth/token")
	if err != nil {
		return err
	}
	if resp.IsError() || !envelope.Success {
		return fmt.Errorf("authentication failed: %s", resp.Status())
	}

	token, _ := envelope.Data["jwt_token"].(string)
	if token == "" {
		return fmt.Errorf("no token in auth response")
	}
	sc.http.SetAuthToken(token)
	log.Info().Msg("authenticated")
	return nil
}

// post sends a JSON body and returns the envelope data, tolerating expected
// client errors so scenario steps can assert on them.
func (sc *simulationClient) post(path string, body interface{}) (map[string]interface{}, int, error) {
	var envelope apiEnvelope
	resp, err := sc.http.R().SetBody(body).SetResult(&envelope).SetError(&envelope).Post(path)
	if err != nil {
		return nil, 0, err
	}
	return envelope.Data, resp.StatusCode(), nil
}

func (sc *simulationClient) get(path string, query map[string]string) (map[string]interface{}, int, error) {
	var envelope apiEnvelope
	resp, err := sc.http.R().SetQueryParams(query).SetResult(&envelope).SetError(&envelope).Get(path)
	if err != nil {
		return nil, 0, err
	}
	return envelope.Data, resp.StatusCode(), nil
}

// runOrderLifecycle exercises create, idempotent replay, update, cancel and
// the cancel conflict on a second attempt.
func (sc *simulationClient) runOrderLifecycle() error {
	pair := pairs[rand.Intn(len(pairs))]
	key := uuid.New().String()

	body := map[string]string{
		"side":            "buy",
		"token_in":        pair.quote,
		"token_out":       pair.base,
		"amount_in":       fmt.Sprintf("%d", 50+rand.Intn(500)),
		"idempotency_key": key,
	}

	created, status, err := sc.post("/api/v1/orders", body)
	if err != nil {
		return err
	}
	orderID, _ := created["order_id"].(string)
	log.Info().Int("status", status).Str("order_id", orderID).
		Str("quoted_amount_out", fmt.Sprint(created["quoted_amount_out"])).
		Msg("order created")

	// Replay with the identical body must return the same order id.
	replayed, status, err := sc.post("/api/v1/orders", body)
	if err != nil {
		return err
	}
	if replayed["order_id"] != orderID {
		return fmt.Errorf("replay returned a different order: %v vs %s", replayed["order_id"], orderID)
	}
	log.Info().Int("status", status).Msg("idempotent replay returned the original order")

	var envelope apiEnvelope
	resp, err := sc.http.R().
		SetBody(map[string]string{"amount_in": fmt.Sprintf("%d", 50+rand.Intn(500))}).
		SetResult(&envelope).SetError(&envelope).
		Put("/api/v1/orders/" + orderID)
	if err != nil {
		return err
	}
	log.Info().Int("status", resp.StatusCode()).Msg("order re-priced")

	resp, err = sc.http.R().SetResult(&envelope).SetError(&envelope).Delete("/api/v1/orders/" + orderID)
	if err != nil {
		return err
	}
	log.Info().Int("status", resp.StatusCode()).Msg("order canceled")

	// Second delete must conflict.
	resp, err = sc.http.R().SetResult(&envelope).SetError(&envelope).Delete("/api/v1/orders/" + orderID)
	if err != nil {
		return err
	}
	if resp.StatusCode() != 400 {
		return fmt.Errorf("expected state conflict on second cancel, got %d", resp.StatusCode())
	}
	log.Info().Msg("second cancel rejected with state conflict")

	return nil
}

// runMarketData reads the derived views for every simulated pair.
func (sc *simulationClient) runMarketData() error {
	for _, pair := range pairs {
		pairParam := map[string]string{"pair": pair.quote + "-" + pair.base}

		book, _, err := sc.get("/api/v1/orderbook", pairParam)
		if err != nil {
			return err
		}
		stats, _, err := sc.get("/api/v1/stats", pairParam)
		if err != nil {
			return err
		}
		log.Info().
			Str("pair", pairParam["pair"]).
			Int("bids", sliceLen(book["bids"])).
			Int("asks", sliceLen(book["asks"])).
			Str("price", fmt.Sprint(stats["price"])).
			Str("tvl", fmt.Sprint(stats["tvl"])).
			Msg("market data")

		if _, _, err := sc.get("/api/v1/trades", pairParam); err != nil {
			return err
		}
	}
	return nil
}

// runTreasury credits the reserve then exercises buyback and withdraw.
func (sc *simulationClient) runTreasury() error {
	_, status, err := sc.post("/api/v1/internal/reserve/credit", map[string]string{
		"asset":  "USDC",
		"amount": "10000",
	})
	if err != nil {
		return err
	}
	log.Info().Int("status", status).Msg("reserve credited")

	action, status, err := sc.post("/api/v1/reserve/buyback", map[string]string{
		"amount_in":       "500",
		"min_out":         "400",
		"idempotency_key": uuid.New().String(),
	})
	if err != nil {
		return err
	}
	log.Info().Int("status", status).Str("action_id", fmt.Sprint(action["action_id"])).Msg("buyback accepted")

	_, status, err = sc.post("/api/v1/reserve/withdraw", map[string]string{
		"amount":          "100",
		"asset":           "USDC",
		"destination":     "0x" + uuid.New().String()[:8],
		"idempotency_key": uuid.New().String(),
	})
	if err != nil {
		return err
	}
	log.Info().Int("status", status).Msg("withdraw accepted")

	return nil
}

// runTaxReport generates a report for the current month.
func (sc *simulationClient) runTaxReport() error {
	now := time.Now()
	report, status, err := sc.post("/api/v1/tax-reports", map[string]string{
		"period_start":    now.AddDate(0, -1, 0).Format("2006-01-02"),
		"period_end":      now.Format("2006-01-02"),
		"idempotency_key": uuid.New().String(),
	})
	if err != nil {
		return err
	}
	log.Info().Int("status", status).
		Str("report_id", fmt.Sprint(report["report_id"])).
		Str("net_amount", fmt.Sprint(report["net_amount"])).
		Msg("tax report generated")
	return nil
}

func sliceLen(v interface{}) int {
	s, _ := v.([]interface{})
	return len(s)
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	for i := 0; i < 5; i++ {
		if err := sc.runOrderLifecycle(); err != nil {
			log.Fatal().Err(err).Msg("order lifecycle failed")
		}
	}
	if err := sc.runMarketData(); err != nil {
		log.Fatal().Err(err).Msg("market data reads failed")
	}
	if err := sc.runTreasury(); err != nil {
		log.Fatal().Err(err).Msg("treasury scenario failed")
	}
	if err := sc.runTaxReport(); err != nil {
		log.Fatal().Err(err).Msg("tax report scenario failed")
	}

	log.Info().Msg("simulation completed")
}
