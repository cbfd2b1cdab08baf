package policy

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

func testEngineConfig(t *testing.T) domainPolicy.EngineConfig {
	t.Helper()
	cfg := domainPolicy.DefaultEngineConfig()
	cfg.InputDim = 3
	cfg.ActionSpace = domainPolicy.ActionSpace{Low: []float64{-1}, High: []float64{1}}
	cfg.NumSubPolicies = 2
	cfg.PiHiddenSizes = []int{8}
	cfg.VfHiddenSizes = []int{8}
	cfg.ModelDir = t.TempDir()
	cfg.Seed = 42
	return cfg
}

func newTestEngine(t *testing.T, cfg domainPolicy.EngineConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func testBatch(active []int) domainPolicy.Batch {
	n := len(active)
	batch := domainPolicy.Batch{
		Observations:    make([][]float64, n),
		TakenActions:    make([][]float64, n),
		Returns:         make([]float64, n),
		Advantages:      make([]float64, n),
		ActiveSubPolicy: active,
	}
	for i := 0; i < n; i++ {
		f := float64(i)
		batch.Observations[i] = []float64{0.1 * f, -0.2 * f, 0.05 * f}
		batch.TakenActions[i] = []float64{0.3 - 0.1*f}
		batch.Returns[i] = 0.5 + 0.1*f
		batch.Advantages[i] = 0.2 + 0.05*f
	}
	return batch
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.NumSubPolicies = 0
	if _, err := NewEngine(cfg, zerolog.Nop()); !errors.Is(err, domainPolicy.ErrInvalidConfig) {
		t.Fatalf("NewEngine = %v, expected ErrInvalidConfig", err)
	}
}

func TestEngineRejectsOutOfRangeSubPolicy(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	if _, err := e.Train(testBatch([]int{0, 2})); !errors.Is(err, domainPolicy.ErrInvalidConfig) {
		t.Fatalf("Train with sub-policy 2 of 2 = %v, expected ErrInvalidConfig", err)
	}
	if _, _, err := e.PredictOne([]float64{0, 0, 0}, -1, true, false); !errors.Is(err, domainPolicy.ErrInvalidConfig) {
		t.Fatalf("Predict with sub-policy -1 = %v, expected ErrInvalidConfig", err)
	}
}

func TestEngineGreedyPredictDeterministic(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	obs := []float64{0, 0, 0}
	a1, v1, err := e.PredictOne(obs, 0, true, false)
	if err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	a2, v2, err := e.PredictOne(obs, 0, true, false)
	if err != nil {
		t.Fatalf("PredictOne: %v", err)
	}

	if a1[0] != a2[0] || v1 != v2 {
		t.Fatalf("greedy prediction not deterministic: %v/%v vs %v/%v", a1, v1, a2, v2)
	}
	if a1[0] < -1 || a1[0] > 1 {
		t.Fatalf("greedy action %v outside the action box", a1[0])
	}
}

func TestEnginePredictBatch(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	obs := [][]float64{{0, 0, 0}, {1, 1, 1}, {-1, 0, 1}}
	subs := []int{0, 1, 0}
	actions, values, err := e.Predict(obs, subs, false, false)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(actions) != 3 || len(values) != 3 {
		t.Fatalf("Predict returned %d actions, %d values, expected 3 each", len(actions), len(values))
	}
	for i, a := range actions {
		if len(a) != 1 {
			t.Fatalf("action %d has %d dims, expected 1", i, len(a))
		}
		if a[0] < -1 || a[0] > 1 {
			t.Fatalf("action %d = %v outside the action box", i, a[0])
		}
	}
	if e.PredictStepIdx() != 0 {
		t.Fatalf("predict counter = %d after summary-free predict, expected 0", e.PredictStepIdx())
	}
}

func TestEnginePredictSummaryCounter(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	for i := 0; i < 3; i++ {
		if _, _, err := e.PredictOne([]float64{0, 0, 0}, 0, true, true); err != nil {
			t.Fatalf("PredictOne: %v", err)
		}
	}
	if e.PredictStepIdx() != 3 {
		t.Fatalf("predict counter = %d, expected 3", e.PredictStepIdx())
	}

	records, err := e.Summaries().Query(context.Background(), domainPolicy.SummaryQuery{Tag: "predict_actor/active_sub_policy"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d prediction records, expected 3", len(records))
	}
}

func TestEngineTrainCounters(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))
	e.UpdateOldPolicy()

	batch := testBatch([]int{0, 1, 0, 1})
	for i := 0; i < 4; i++ {
		if _, err := e.Train(batch); err != nil {
			t.Fatalf("Train %d: %v", i, err)
		}
	}
	if e.TrainStepIdx() != 4 {
		t.Fatalf("train counter = %d, expected 4", e.TrainStepIdx())
	}
	if e.EpisodeIdx() != 0 {
		t.Fatalf("episode counter = %d, expected 0", e.EpisodeIdx())
	}
}

// After syncing, the very first training step sees identical current
// and old policies, so the mean probability ratio is exactly one.
func TestEngineFirstTrainRatioOne(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))
	e.UpdateOldPolicy()

	result, err := e.Train(testBatch([]int{0, 1, 0}))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if math.Abs(result.MeanProbRatio-1) > 1e-12 {
		t.Fatalf("mean prob ratio = %v, expected 1", result.MeanProbRatio)
	}
	if result.LearningRate != e.config.LearningRate {
		t.Fatalf("learning rate = %v, expected base %v at episode 0", result.LearningRate, e.config.LearningRate)
	}
}

// Training a batch routed entirely to sub-policy 1 must leave every
// parameter of sub-policy 0 bit-identical.
func TestEngineSubPolicyIsolation(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))
	e.UpdateOldPolicy()

	snapshot := func(u int) [][]float64 {
		out := make([][]float64, 0)
		for _, p := range e.units[u].Current().Params() {
			out = append(out, append([]float64(nil), p.Data...))
		}
		return out
	}
	before0 := snapshot(0)
	before1 := snapshot(1)

	for step := 0; step < 3; step++ {
		if _, err := e.Train(testBatch([]int{1, 1, 1, 1})); err != nil {
			t.Fatalf("Train: %v", err)
		}
	}

	for i, p := range e.units[0].Current().Params() {
		for j := range p.Data {
			if p.Data[j] != before0[i][j] {
				t.Fatalf("sub-policy 0 param %s changed by training sub-policy 1", p.Name)
			}
		}
	}

	moved := false
	for i, p := range e.units[1].Current().Params() {
		for j := range p.Data {
			if p.Data[j] != before1[i][j] {
				moved = true
			}
		}
	}
	if !moved {
		t.Fatal("sub-policy 1 did not train")
	}
}

// The per-unit loss sums are divided by the full batch size, so the
// reported losses equal the plain mean of the per-sample terms computed
// directly on an identically seeded engine.
func TestEngineMaskedMeanSemantics(t *testing.T) {
	cfg := testEngineConfig(t)
	e := newTestEngine(t, cfg)
	e.UpdateOldPolicy()

	ref := newTestEngine(t, func() domainPolicy.EngineConfig {
		c := cfg
		c.ModelDir = t.TempDir()
		return c
	}())
	ref.UpdateOldPolicy()

	batch := testBatch([]int{0, 1, 0, 1})
	n := batch.Len()

	var policySum, valueSum, entropySum float64
	for i := 0; i < n; i++ {
		terms := ref.units[batch.ActiveSubPolicy[i]].lossAndGrad(
			batch.Observations[i], batch.TakenActions[i],
			batch.Advantages[i], batch.Returns[i],
			cfg.Epsilon, cfg.ValueScale, cfg.EntropyScale, 1/float64(n),
		)
		policySum += terms.policy
		valueSum += terms.value
		entropySum += terms.entropy
	}

	result, err := e.Train(batch)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if math.Abs(result.PolicyLoss-policySum/float64(n)) > 1e-12 {
		t.Fatalf("policy loss %v, expected %v", result.PolicyLoss, policySum/float64(n))
	}
	if math.Abs(result.ValueLoss-valueSum/float64(n)) > 1e-12 {
		t.Fatalf("value loss %v, expected %v", result.ValueLoss, valueSum/float64(n))
	}
	wantTotal := -policySum/float64(n) + valueSum/float64(n) - entropySum/float64(n)
	if math.Abs(result.TotalLoss-wantTotal) > 1e-12 {
		t.Fatalf("total loss %v, expected %v", result.TotalLoss, wantTotal)
	}
}

func TestEngineLearningRateDecay(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	base := e.config.LearningRate
	if e.LearningRate() != base {
		t.Fatalf("LearningRate() = %v at episode 0, expected %v", e.LearningRate(), base)
	}

	if err := e.WriteEpisodicSummaries(); err != nil {
		t.Fatalf("WriteEpisodicSummaries: %v", err)
	}
	if e.EpisodeIdx() != 1 {
		t.Fatalf("episode counter = %d, expected 1", e.EpisodeIdx())
	}

	want := base * e.config.LRDecay
	if math.Abs(e.LearningRate()-want) > 1e-15 {
		t.Fatalf("LearningRate() = %v after one episode, expected %v", e.LearningRate(), want)
	}
}

func TestEngineEpisodicSummaries(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))
	e.UpdateOldPolicy()

	if _, err := e.Train(testBatch([]int{0, 1})); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := e.WriteEpisodicSummaries(); err != nil {
		t.Fatalf("WriteEpisodicSummaries: %v", err)
	}

	records, err := e.Summaries().Query(context.Background(), domainPolicy.SummaryQuery{
		Tag:  "train_loss/loss",
		Kind: domainPolicy.SummaryScalar,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d episodic loss records, expected 1", len(records))
	}
	if records[0].Step != 0 {
		t.Fatalf("episodic record keyed by step %d, expected episode 0", records[0].Step)
	}
}

func TestEngineCheckpointRoundTrip(t *testing.T) {
	cfg := testEngineConfig(t)
	e := newTestEngine(t, cfg)
	e.UpdateOldPolicy()

	for i := 0; i < 2; i++ {
		if _, err := e.Train(testBatch([]int{0, 1, 1})); err != nil {
			t.Fatalf("Train: %v", err)
		}
	}
	if _, _, err := e.PredictOne([]float64{0, 0, 0}, 0, true, true); err != nil {
		t.Fatalf("PredictOne: %v", err)
	}
	if err := e.WriteEpisodicSummaries(); err != nil {
		t.Fatalf("WriteEpisodicSummaries: %v", err)
	}
	if _, err := e.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restoredCfg := cfg
	restoredCfg.Seed = 777 // different init, must be overwritten by the restore
	restored := newTestEngine(t, restoredCfg)

	status, err := restored.LoadLatestCheckpoint()
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if status != domainPolicy.Restored {
		t.Fatalf("status = %v, expected restored", status)
	}

	if restored.TrainStepIdx() != 2 || restored.PredictStepIdx() != 1 || restored.EpisodeIdx() != 1 {
		t.Fatalf("restored counters train=%d predict=%d episode=%d, expected 2/1/1",
			restored.TrainStepIdx(), restored.PredictStepIdx(), restored.EpisodeIdx())
	}

	for u := range e.units {
		orig, rest := e.units[u].Current().Params(), restored.units[u].Current().Params()
		for i := range orig {
			for j := range orig[i].Data {
				if orig[i].Data[j] != rest[i].Data[j] {
					t.Fatalf("restored param %s differs from saved value", orig[i].Name)
				}
			}
		}
	}
}

func TestEngineLoadCheckpointNotFound(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	status, err := e.LoadLatestCheckpoint()
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if status != domainPolicy.RestoreNotFound {
		t.Fatalf("status = %v, expected not-found", status)
	}
	if e.TrainStepIdx() != 0 || e.EpisodeIdx() != 0 {
		t.Fatal("counters moved on a not-found restore")
	}
}

// A checkpoint saved by an engine with a different architecture must be
// rejected as corrupt without touching the live parameters.
func TestEngineLoadCheckpointShapeMismatch(t *testing.T) {
	cfg := testEngineConfig(t)
	e := newTestEngine(t, cfg)
	if _, err := e.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	otherCfg := cfg
	otherCfg.PiHiddenSizes = []int{4}
	other := newTestEngine(t, otherCfg)

	before := append([]float64(nil), other.units[0].Current().Params()[0].Data...)

	status, err := other.LoadLatestCheckpoint()
	if status != domainPolicy.RestoreCorrupt {
		t.Fatalf("status = %v, expected corrupt", status)
	}
	if !errors.Is(err, domainPolicy.ErrCheckpointCorrupt) {
		t.Fatalf("error = %v, expected ErrCheckpointCorrupt", err)
	}

	after := other.units[0].Current().Params()[0].Data
	for j := range before {
		if after[j] != before[j] {
			t.Fatal("corrupt restore modified live parameters")
		}
	}
}

func TestEngineClosedRejectsOperations(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.Train(testBatch([]int{0})); !errors.Is(err, domainPolicy.ErrEngineClosed) {
		t.Fatalf("Train after close = %v, expected ErrEngineClosed", err)
	}
	if _, _, err := e.PredictOne([]float64{0, 0, 0}, 0, true, false); !errors.Is(err, domainPolicy.ErrEngineClosed) {
		t.Fatalf("Predict after close = %v, expected ErrEngineClosed", err)
	}
	if err := e.WriteEpisodicSummaries(); !errors.Is(err, domainPolicy.ErrEngineClosed) {
		t.Fatalf("WriteEpisodicSummaries after close = %v, expected ErrEngineClosed", err)
	}
}

func TestEngineWriteValueAndDict(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(t))

	if err := e.WriteValueToSummary("reward", 12.5, 3); err != nil {
		t.Fatalf("WriteValueToSummary: %v", err)
	}
	if err := e.WriteDictToSummary("hyperparameters", map[string]interface{}{"epsilon": 0.2}, 0); err != nil {
		t.Fatalf("WriteDictToSummary: %v", err)
	}

	records, err := e.Summaries().Query(context.Background(), domainPolicy.SummaryQuery{Tag: "reward"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].Value != 12.5 || records[0].Step != 3 {
		t.Fatalf("unexpected scalar record: %+v", records)
	}

	records, err = e.Summaries().Query(context.Background(), domainPolicy.SummaryQuery{Tag: "hyperparameters"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].Kind != domainPolicy.SummaryText {
		t.Fatalf("unexpected dict record: %+v", records)
	}
}
