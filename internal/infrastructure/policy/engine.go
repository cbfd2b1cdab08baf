package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
	"github.com/xxzhixng/Carla-ppo/internal/infrastructure/checkpoint"
	"github.com/xxzhixng/Carla-ppo/internal/infrastructure/summary"
)

// Engine owns N sub-policy units and drives PPO training, prediction,
// old-policy synchronization, summary emission and checkpointing.
//
// All operations are synchronous and run to completion. The engine
// provides no internal locking; callers must serialize access to one
// instance.
type Engine struct {
	config domainPolicy.EngineConfig
	log    zerolog.Logger
	rng    *rand.Rand

	units     []*SubPolicyUnit
	optimizer *Adam

	trainSteps   *domainPolicy.Counter
	predictSteps *domainPolicy.Counter
	episodes     *domainPolicy.Counter

	metrics     *meanAccumulator
	summaries   *summary.Store
	checkpoints *checkpoint.Store

	checkpointDir string
	logDir        string
	videoDir      string

	lastResult domainPolicy.TrainResult
	closed     bool
}

// NewEngine validates the configuration, creates the output directory
// tree (idempotent), opens the summary store and builds every
// sub-policy's current/old graph pair.
func NewEngine(cfg domainPolicy.EngineConfig, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	e := &Engine{
		config:        cfg,
		log:           logger,
		rng:           rng,
		trainSteps:    domainPolicy.NewCounter(domainPolicy.TrainStepCounter),
		predictSteps:  domainPolicy.NewCounter(domainPolicy.PredictStepCounter),
		episodes:      domainPolicy.NewCounter(domainPolicy.EpisodeCounter),
		metrics:       newMeanAccumulator(),
		checkpointDir: filepath.Join(cfg.ModelDir, "checkpoints"),
		logDir:        filepath.Join(cfg.ModelDir, "logs"),
		videoDir:      filepath.Join(cfg.ModelDir, "videos"),
	}

	for _, dir := range []string{e.checkpointDir, e.logDir, e.videoDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	store, err := summary.Open(filepath.Join(e.logDir, "summaries.db"))
	if err != nil {
		return nil, err
	}
	e.summaries = store
	e.checkpoints = checkpoint.NewStore(e.checkpointDir)

	var trainable []*Param
	for i := 0; i < cfg.NumSubPolicies; i++ {
		unit, err := newSubPolicyUnit(i, cfg, rng)
		if err != nil {
			store.Close()
			return nil, err
		}
		e.units = append(e.units, unit)
		trainable = append(trainable, unit.Current().Params()...)
	}
	e.optimizer = newAdam(trainable)

	return e, nil
}

// LearningRate returns the decayed rate for the current episode:
// base * decay^episode, constant within an episode.
func (e *Engine) LearningRate() float64 {
	return e.config.LearningRate * math.Pow(e.config.LRDecay, float64(e.episodes.Value))
}

// Train performs one gradient step on the batch. Every sample is routed
// to its active sub-policy unit; per-unit sums are divided by the full
// batch size, so samples routed elsewhere contribute zero to a unit's
// numerator while still counting in its denominator. Only current
// parameters are updated.
func (e *Engine) Train(batch domainPolicy.Batch) (domainPolicy.TrainResult, error) {
	if e.closed {
		return domainPolicy.TrainResult{}, domainPolicy.ErrEngineClosed
	}
	if err := batch.Validate(); err != nil {
		return domainPolicy.TrainResult{}, err
	}
	for i, idx := range batch.ActiveSubPolicy {
		if idx < 0 || idx >= len(e.units) {
			return domainPolicy.TrainResult{}, fmt.Errorf("%w: sample %d selects sub-policy %d of %d", domainPolicy.ErrInvalidConfig, i, idx, len(e.units))
		}
	}

	n := batch.Len()
	invN := 1 / float64(n)
	lr := e.LearningRate()
	numActions := e.config.ActionSpace.NumActions()

	e.optimizer.ZeroGrads()

	var policySum, valueSum, entropySum, ratioSum float64
	unitCounts := make([]int, len(e.units))

	ratios := make([]float64, 0, n)
	activeIdx := make([]float64, 0, n)
	var inputVals []float64
	takenByDim := make([][]float64, numActions)
	meanByDim := make([][]float64, numActions)
	stdByDim := make([][]float64, numActions)

	for i := 0; i < n; i++ {
		unit := e.units[batch.ActiveSubPolicy[i]]
		unitCounts[unit.index]++

		terms := unit.lossAndGrad(
			batch.Observations[i], batch.TakenActions[i],
			batch.Advantages[i], batch.Returns[i],
			e.config.Epsilon, e.config.ValueScale, e.config.EntropyScale, invN,
		)

		policySum += terms.policy
		valueSum += terms.value
		entropySum += terms.entropy
		ratioSum += terms.probRatio

		ratios = append(ratios, terms.probRatio)
		activeIdx = append(activeIdx, float64(unit.index))
		inputVals = append(inputVals, batch.Observations[i]...)
		for d := 0; d < numActions; d++ {
			takenByDim[d] = append(takenByDim[d], batch.TakenActions[i][d])
			meanByDim[d] = append(meanByDim[d], terms.mean[d])
			stdByDim[d] = append(stdByDim[d], terms.std[d])
		}
	}

	for idx, count := range unitCounts {
		if count == 0 {
			e.log.Warn().Int("subPolicy", idx).Msg("sub-policy received no samples in training batch")
		}
	}

	e.optimizer.Step(lr)

	policyLoss := policySum * invN
	valueLoss := valueSum * invN
	entropyLoss := entropySum * invN
	totalLoss := -policyLoss + valueLoss - entropyLoss

	e.metrics.Add("train_loss/policy", policyLoss)
	e.metrics.Add("train_loss/value", valueLoss)
	e.metrics.Add("train_loss/entropy", entropyLoss)
	e.metrics.Add("train_loss/loss", totalLoss)
	for d := 0; d < numActions; d++ {
		e.metrics.Add(fmt.Sprintf("train_actor/action_%d/taken_actions", d), mean(takenByDim[d]))
		e.metrics.Add(fmt.Sprintf("train_actor/action_%d/mean", d), mean(meanByDim[d]))
		e.metrics.Add(fmt.Sprintf("train_actor/action_%d/std", d), mean(stdByDim[d]))
	}
	e.metrics.Add("train/prob_ratio", ratioSum*invN)
	e.metrics.Add("train/returns", mean(batch.Returns))
	e.metrics.Add("train/advantage", mean(batch.Advantages))
	e.metrics.Add("train/learning_rate", lr)

	step := e.trainSteps.Value
	for d := 0; d < numActions; d++ {
		if err := e.summaries.WriteHistogram(fmt.Sprintf("train_actor_step/action_%d/taken_actions", d), step, takenByDim[d]); err != nil {
			return domainPolicy.TrainResult{}, err
		}
		if err := e.summaries.WriteHistogram(fmt.Sprintf("train_actor_step/action_%d/mean", d), step, meanByDim[d]); err != nil {
			return domainPolicy.TrainResult{}, err
		}
		if err := e.summaries.WriteHistogram(fmt.Sprintf("train_actor_step/action_%d/std", d), step, stdByDim[d]); err != nil {
			return domainPolicy.TrainResult{}, err
		}
	}
	if err := e.summaries.WriteHistogram("train_step/input_states", step, inputVals); err != nil {
		return domainPolicy.TrainResult{}, err
	}
	if err := e.summaries.WriteHistogram("train_step/prob_ratio", step, ratios); err != nil {
		return domainPolicy.TrainResult{}, err
	}
	if err := e.summaries.WriteHistogram("train_step/active_sub_policy", step, activeIdx); err != nil {
		return domainPolicy.TrainResult{}, err
	}

	e.trainSteps.Inc()

	e.lastResult = domainPolicy.TrainResult{
		PolicyLoss:    policyLoss,
		ValueLoss:     valueLoss,
		EntropyLoss:   entropyLoss,
		TotalLoss:     totalLoss,
		MeanProbRatio: ratioSum * invN,
		LearningRate:  lr,
	}
	return e.lastResult, nil
}

// Predict returns one action and value estimate per sample, each
// produced by the sample's selected sub-policy. Greedy prediction
// returns the action mean; otherwise a fresh Gaussian sample clipped to
// the action box. With writeSummary the call emits a prediction event
// keyed by the predict-step counter and increments it; without it the
// call is side-effect free.
func (e *Engine) Predict(obs [][]float64, subPolicies []int, greedy, writeSummary bool) ([][]float64, []float64, error) {
	if e.closed {
		return nil, nil, domainPolicy.ErrEngineClosed
	}
	if len(subPolicies) != len(obs) {
		return nil, nil, fmt.Errorf("%w: %d observations with %d sub-policy selections", domainPolicy.ErrInvalidConfig, len(obs), len(subPolicies))
	}
	for i, idx := range subPolicies {
		if idx < 0 || idx >= len(e.units) {
			return nil, nil, fmt.Errorf("%w: sample %d selects sub-policy %d of %d", domainPolicy.ErrInvalidConfig, i, idx, len(e.units))
		}
	}

	actions := make([][]float64, len(obs))
	values := make([]float64, len(obs))
	evals := make([]*graphEval, len(obs))

	for i := range obs {
		unit := e.units[subPolicies[i]]
		ev := unit.Current().Forward(obs[i])
		evals[i] = ev
		values[i] = ev.Value
		if greedy {
			actions[i] = append([]float64(nil), ev.Mean...)
		} else {
			actions[i] = unit.Current().Sample(ev, e.rng)
		}
	}

	if writeSummary && len(obs) > 0 {
		step := e.predictSteps.Value
		ev := evals[0]
		for d := range actions[0] {
			if err := e.summaries.WriteScalar(fmt.Sprintf("predict_actor/action_%d/sampled_action", d), step, actions[0][d]); err != nil {
				return nil, nil, err
			}
			if err := e.summaries.WriteScalar(fmt.Sprintf("predict_actor/action_%d/mean", d), step, ev.Mean[d]); err != nil {
				return nil, nil, err
			}
			if err := e.summaries.WriteScalar(fmt.Sprintf("predict_actor/action_%d/std", d), step, ev.Std[d]); err != nil {
				return nil, nil, err
			}
		}
		if err := e.summaries.WriteScalar("predict_actor/active_sub_policy", step, float64(subPolicies[0])); err != nil {
			return nil, nil, err
		}
		e.predictSteps.Inc()
	}

	return actions, values, nil
}

// PredictOne is the unbatched form of Predict for a single observation.
func (e *Engine) PredictOne(obs []float64, subPolicy int, greedy, writeSummary bool) ([]float64, float64, error) {
	actions, values, err := e.Predict([][]float64{obs}, []int{subPolicy}, greedy, writeSummary)
	if err != nil {
		return nil, 0, err
	}
	return actions[0], values[0], nil
}

// UpdateOldPolicy copies every current-policy parameter into the
// matching old-policy parameter for all sub-policies.
func (e *Engine) UpdateOldPolicy() {
	for _, unit := range e.units {
		unit.SyncOld()
	}
}

// WriteEpisodicSummaries flushes the running-mean metrics as scalar
// records keyed by the episode counter, resets the accumulators and
// increments the episode counter.
func (e *Engine) WriteEpisodicSummaries() error {
	if e.closed {
		return domainPolicy.ErrEngineClosed
	}

	episode := e.episodes.Value
	means := e.metrics.Means()
	for _, name := range e.metrics.Names() {
		if err := e.summaries.WriteScalar(name, episode, means[name]); err != nil {
			return err
		}
	}
	e.metrics.Reset()
	e.episodes.Inc()
	return nil
}

// WriteValueToSummary logs an arbitrary named scalar keyed to a step
// index, for use by the outer training loop.
func (e *Engine) WriteValueToSummary(tag string, value float64, step int64) error {
	if e.closed {
		return domainPolicy.ErrEngineClosed
	}
	return e.summaries.WriteScalar(tag, step, value)
}

// WriteDictToSummary logs a named parameter map as one JSON text
// record.
func (e *Engine) WriteDictToSummary(tag string, params map[string]interface{}, step int64) error {
	if e.closed {
		return domainPolicy.ErrEngineClosed
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal summary dict: %w", err)
	}
	return e.summaries.WriteText(tag, step, string(data))
}

// Save persists all current and old parameters plus the three counters
// as a checkpoint keyed by the episode counter.
func (e *Engine) Save() (string, error) {
	if e.closed {
		return "", domainPolicy.ErrEngineClosed
	}

	cp := &domainPolicy.Checkpoint{
		Episode: e.episodes.Value,
		Counters: map[string]int64{
			domainPolicy.TrainStepCounter:   e.trainSteps.Value,
			domainPolicy.PredictStepCounter: e.predictSteps.Value,
			domainPolicy.EpisodeCounter:     e.episodes.Value,
		},
		CreatedAt: time.Now(),
	}
	for _, unit := range e.units {
		cp.SubPolicies = append(cp.SubPolicies, domainPolicy.SubPolicyState{
			Index:   unit.index,
			Current: paramStates(unit.current.Params()),
			Old:     paramStates(unit.old.Params()),
		})
	}

	path, err := e.checkpoints.Save(cp)
	if err != nil {
		return "", err
	}
	e.log.Info().Str("path", path).Int64("episode", cp.Episode).Msg("model checkpoint saved")
	return path, nil
}

// LoadLatestCheckpoint restores the most recent checkpoint. It reports
// RestoreNotFound with a nil error when nothing has been saved yet, and
// RestoreCorrupt with the parse or shape detail when a checkpoint
// exists but cannot be applied; the caller decides whether corruption
// is fatal. Parameters and counters are untouched unless the status is
// Restored.
func (e *Engine) LoadLatestCheckpoint() (domainPolicy.RestoreStatus, error) {
	if e.closed {
		return domainPolicy.RestoreCorrupt, domainPolicy.ErrEngineClosed
	}

	cp, status, err := e.checkpoints.LoadLatest()
	if status != domainPolicy.Restored {
		return status, err
	}

	if len(cp.SubPolicies) != len(e.units) {
		return domainPolicy.RestoreCorrupt, fmt.Errorf("%w: checkpoint has %d sub-policies, engine has %d",
			domainPolicy.ErrCheckpointCorrupt, len(cp.SubPolicies), len(e.units))
	}
	for i, unit := range e.units {
		state := cp.SubPolicies[i]
		if err := checkParamStates(unit.current.Params(), state.Current); err != nil {
			return domainPolicy.RestoreCorrupt, err
		}
		if err := checkParamStates(unit.old.Params(), state.Old); err != nil {
			return domainPolicy.RestoreCorrupt, err
		}
	}

	for i, unit := range e.units {
		state := cp.SubPolicies[i]
		applyParamStates(unit.current.Params(), state.Current)
		applyParamStates(unit.old.Params(), state.Old)
	}
	e.trainSteps.Restore(cp.Counters[domainPolicy.TrainStepCounter])
	e.predictSteps.Restore(cp.Counters[domainPolicy.PredictStepCounter])
	e.episodes.Restore(cp.Counters[domainPolicy.EpisodeCounter])

	e.log.Info().Int64("episode", cp.Episode).Msg("model checkpoint restored")
	return domainPolicy.Restored, nil
}

// EpisodeIdx returns the episode counter value.
func (e *Engine) EpisodeIdx() int64 { return e.episodes.Value }

// TrainStepIdx returns the train-step counter value.
func (e *Engine) TrainStepIdx() int64 { return e.trainSteps.Value }

// PredictStepIdx returns the predict-step counter value.
func (e *Engine) PredictStepIdx() int64 { return e.predictSteps.Value }

// Stats returns a snapshot of counters and the latest training losses.
func (e *Engine) Stats() domainPolicy.EngineStats {
	return domainPolicy.EngineStats{
		TrainSteps:   e.trainSteps.Value,
		PredictSteps: e.predictSteps.Value,
		Episodes:     e.episodes.Value,
		LastLoss:     e.lastResult.TotalLoss,
		LastPolicy:   e.lastResult.PolicyLoss,
		LastValue:    e.lastResult.ValueLoss,
		LastEntropy:  e.lastResult.EntropyLoss,
	}
}

// Summaries exposes the summary log's read side for monitoring
// consumers.
func (e *Engine) Summaries() *summary.Store {
	return e.summaries
}

// CheckpointDir returns the checkpoint output directory.
func (e *Engine) CheckpointDir() string { return e.checkpointDir }

// LogDir returns the summary log directory.
func (e *Engine) LogDir() string { return e.logDir }

// VideoDir returns the video output directory.
func (e *Engine) VideoDir() string { return e.videoDir }

// NumSubPolicies returns the number of sub-policy units.
func (e *Engine) NumSubPolicies() int { return len(e.units) }

// Close releases the summary store handle. The engine rejects further
// operations afterwards.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.summaries.Close()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values) / float64(len(values))
}

func paramStates(params []*Param) []domainPolicy.ParamState {
	states := make([]domainPolicy.ParamState, len(params))
	for i, p := range params {
		states[i] = domainPolicy.ParamState{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float64(nil), p.Data...),
		}
	}
	return states
}

func checkParamStates(params []*Param, states []domainPolicy.ParamState) error {
	if len(params) != len(states) {
		return fmt.Errorf("%w: checkpoint has %d params, graph has %d", domainPolicy.ErrCheckpointCorrupt, len(states), len(params))
	}
	for i, p := range params {
		if len(states[i].Data) != len(p.Data) {
			return fmt.Errorf("%w: param %s has %d values, expected %d",
				domainPolicy.ErrCheckpointCorrupt, states[i].Name, len(states[i].Data), len(p.Data))
		}
	}
	return nil
}

func applyParamStates(params []*Param, states []domainPolicy.ParamState) {
	for i, p := range params {
		copy(p.Data, states[i].Data)
	}
}
