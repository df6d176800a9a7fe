// Package bus encodes the engine's bus messages as protobuf Struct payloads.
package bus

import (
	"fmt"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/libs/go/numbers"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(s)
}

func decode(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal struct: %w", err)
	}
	return s.AsMap(), nil
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// optFloat treats a missing field as zero.
func optFloat(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, err := numbers.ExtractFloat(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return f, nil
}

func EncodeSignal(sig domain.Signal) ([]byte, error) {
	return encode(map[string]any{
		"signalId":     sig.SignalID,
		"masterId":     sig.MasterID,
		"symbol":       sig.Symbol,
		"side":         string(sig.Side),
		"lots":         sig.Lots,
		"price":        sig.Price,
		"stopLoss":     sig.StopLoss,
		"takeProfit":   sig.TakeProfit,
		"masterEquity": sig.MasterEquity,
		"timestampMs":  sig.Timestamp.UnixMilli(),
	})
}

func DecodeSignal(data []byte) (domain.Signal, error) {
	m, err := decode(data)
	if err != nil {
		return domain.Signal{}, err
	}
	sig := domain.Signal{
		SignalID: str(m, "signalId"),
		MasterID: str(m, "masterId"),
		Symbol:   str(m, "symbol"),
		Side:     domain.Side(str(m, "side")),
	}
	if sig.MasterID == "" {
		return domain.Signal{}, fmt.Errorf("signal %q: missing masterId", sig.SignalID)
	}
	if sig.Side != domain.SideBuy && sig.Side != domain.SideSell {
		return domain.Signal{}, fmt.Errorf("signal %q: unknown side %q", sig.SignalID, sig.Side)
	}
	if sig.Lots, err = numbers.ExtractFloat(m["lots"]); err != nil {
		return domain.Signal{}, fmt.Errorf("signal %q lots: %w", sig.SignalID, err)
	}
	if sig.Price, err = optFloat(m, "price"); err != nil {
		return domain.Signal{}, err
	}
	if sig.StopLoss, err = optFloat(m, "stopLoss"); err != nil {
		return domain.Signal{}, err
	}
	if sig.TakeProfit, err = optFloat(m, "takeProfit"); err != nil {
		return domain.Signal{}, err
	}
	if sig.MasterEquity, err = optFloat(m, "masterEquity"); err != nil {
		return domain.Signal{}, err
	}
	if v, ok := m["timestampMs"]; ok {
		ms, err := numbers.ExtractInt(v)
		if err != nil {
			return domain.Signal{}, fmt.Errorf("signal %q timestampMs: %w", sig.SignalID, err)
		}
		sig.Timestamp = time.UnixMilli(ms).UTC()
	}
	return sig, nil
}

func EncodeExecutionRequest(r domain.ExecutionRequest) ([]byte, error) {
	return encode(map[string]any{
		"requestId":      r.RequestID,
		"signalId":       r.SignalID,
		"subscriptionId": r.SubscriptionID,
		"followerId":     r.FollowerID,
		"masterId":       r.MasterID,
		"symbol":         r.Symbol,
		"side":           string(r.Side),
		"lots":           r.Lots,
		"price":          r.Price,
		"stopLoss":       r.StopLoss,
		"takeProfit":     r.TakeProfit,
		"lane":           string(r.Lane),
		"shard":          r.Shard,
		"createdAtMs":    r.CreatedAt.UnixMilli(),
	})
}

func DecodeExecutionRequest(data []byte) (domain.ExecutionRequest, error) {
	m, err := decode(data)
	if err != nil {
		return domain.ExecutionRequest{}, err
	}
	r := domain.ExecutionRequest{
		RequestID:      str(m, "requestId"),
		SignalID:       str(m, "signalId"),
		SubscriptionID: str(m, "subscriptionId"),
		FollowerID:     str(m, "followerId"),
		MasterID:       str(m, "masterId"),
		Symbol:         str(m, "symbol"),
		Side:           domain.Side(str(m, "side")),
		Lane:           domain.ExecutionLane(str(m, "lane")),
	}
	if r.Lots, err = optFloat(m, "lots"); err != nil {
		return domain.ExecutionRequest{}, err
	}
	if r.Price, err = optFloat(m, "price"); err != nil {
		return domain.ExecutionRequest{}, err
	}
	if r.StopLoss, err = optFloat(m, "stopLoss"); err != nil {
		return domain.ExecutionRequest{}, err
	}
	if r.TakeProfit, err = optFloat(m, "takeProfit"); err != nil {
		return domain.ExecutionRequest{}, err
	}
	shard, err := numbers.ExtractInt(m["shard"])
	if err != nil {
		return domain.ExecutionRequest{}, fmt.Errorf("execution request shard: %w", err)
	}
	r.Shard = int(shard)
	ms, err := numbers.ExtractInt(m["createdAtMs"])
	if err != nil {
		return domain.ExecutionRequest{}, fmt.Errorf("execution request createdAtMs: %w", err)
	}
	r.CreatedAt = time.UnixMilli(ms).UTC()
	return r, nil
}

// EncodeStats carries AUM as a decimal string so no precision is lost on the wire.
func EncodeStats(e domain.StatsChanged) ([]byte, error) {
	return encode(map[string]any{
		"masterId":       e.MasterID,
		"followersCount": e.FollowersCount,
		"aum":            e.AUM.String(),
		"atMs":           e.At.UnixMilli(),
	})
}

func DecodeStats(data []byte) (domain.StatsChanged, error) {
	m, err := decode(data)
	if err != nil {
		return domain.StatsChanged{}, err
	}
	e := domain.StatsChanged{MasterID: str(m, "masterId")}
	count, err := numbers.ExtractInt(m["followersCount"])
	if err != nil {
		return domain.StatsChanged{}, fmt.Errorf("stats followersCount: %w", err)
	}
	e.FollowersCount = int(count)
	if e.AUM, err = numbers.ExtractDecimal(m["aum"]); err != nil {
		return domain.StatsChanged{}, fmt.Errorf("stats aum: %w", err)
	}
	ms, err := numbers.ExtractInt(m["atMs"])
	if err != nil {
		return domain.StatsChanged{}, fmt.Errorf("stats atMs: %w", err)
	}
	e.At = time.UnixMilli(ms).UTC()
	return e, nil
}

func EncodeScore(e domain.ScoreChanged) ([]byte, error) {
	return encode(map[string]any{
		"masterId":       e.MasterID,
		"riskScore":      e.Score.RiskScore,
		"maxDrawdownPct": e.Score.MaxDrawdownPct,
		"roi":            e.Score.ROI,
		"atMs":           e.At.UnixMilli(),
	})
}

func DecodeScore(data []byte) (domain.ScoreChanged, error) {
	m, err := decode(data)
	if err != nil {
		return domain.ScoreChanged{}, err
	}
	e := domain.ScoreChanged{MasterID: str(m, "masterId")}
	risk, err := numbers.ExtractInt(m["riskScore"])
	if err != nil {
		return domain.ScoreChanged{}, fmt.Errorf("score riskScore: %w", err)
	}
	e.Score.RiskScore = int(risk)
	if e.Score.MaxDrawdownPct, err = optFloat(m, "maxDrawdownPct"); err != nil {
		return domain.ScoreChanged{}, err
	}
	if e.Score.ROI, err = optFloat(m, "roi"); err != nil {
		return domain.ScoreChanged{}, err
	}
	ms, err := numbers.ExtractInt(m["atMs"])
	if err != nil {
		return domain.ScoreChanged{}, fmt.Errorf("score atMs: %w", err)
	}
	e.At = time.UnixMilli(ms).UTC()
	return e, nil
}
