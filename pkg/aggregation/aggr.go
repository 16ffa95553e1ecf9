// Package aggregation defines the groupby aggregator contracts and the
// built-in aggregation operations, plus the hash groupby driver that feeds
// them.
//
// An Aggregator is an opaque factory; the engine only relies on the
// init/add-row/combine/finalize lifecycle, so user-defined aggregators plug
// in the same way the built-ins do.
package aggregation

import (
	"xframe/pkg/errs"
	"xframe/pkg/types"
)

// State accumulates one group's rows for one aggregator.
type State interface {
	// AddRow folds one input value into the state.
	AddRow(v types.Value) error

	// Combine merges another state of the same aggregator into this one.
	Combine(other State) error

	// Finalize returns the aggregate result.
	Finalize() types.Value
}

// Aggregator creates states and describes the output type.
type Aggregator interface {
	// NewState returns a fresh accumulator.
	NewState() State

	// OutputType maps the aggregated column's type to the result type.
	OutputType(input types.Type) types.Type

	// String names the operation, such as "SUM".
	String() string
}

// Count counts rows per group. The aggregated column is ignored.
func Count() Aggregator { return countAggregator{} }

// Sum adds numeric values; NA values are skipped.
func Sum() Aggregator { return sumAggregator{} }

// Min keeps the smallest non-NA value per group.
func Min() Aggregator { return minMaxAggregator{keepMin: true, name: "MIN"} }

// Max keeps the largest non-NA value per group.
func Max() Aggregator { return minMaxAggregator{keepMin: false, name: "MAX"} }

// Avg averages numeric values; NA values are skipped. An all-NA group
// yields NA.
func Avg() Aggregator { return avgAggregator{} }

type countAggregator struct{}

func (countAggregator) NewState() State                    { return &countState{} }
func (countAggregator) OutputType(types.Type) types.Type { return types.IntType }
func (countAggregator) String() string { return "COUNT" }

type countState struct {
	n int64
}

func (s *countState) AddRow(types.Value) error {
	s.n++
	return nil
}

func (s *countState) Combine(other State) error {
	o, ok := other.(*countState)
	if !ok {
		return errs.New(errs.InvariantViolation, "combining mismatched aggregator states")
	}
	s.n += o.n
	return nil
}

func (s *countState) Finalize() types.Value {
	return types.NewInt(s.n)
}

type sumAggregator struct{}

func (sumAggregator) NewState() State { return &sumState{} }

func (sumAggregator) OutputType(input types.Type) types.Type {
	if input == types.IntType {
		return types.IntType
	}
	return types.FloatType
}

func (sumAggregator) String() string { return "SUM" }

type sumState struct {
	intSum   int64
	floatSum float64
	sawFloat bool
	sawAny   bool
}

func (s *sumState) AddRow(v types.Value) error {
	if v.IsNA() {
		return nil
	}
	switch v.Tag() {
	case types.IntType:
		s.intSum += v.Int()
	case types.FloatType:
		s.floatSum += v.Float()
		s.sawFloat = true
	default:
		return errs.New(errs.Unsupported, "cannot sum value of type %s", v.Tag())
	}
	s.sawAny = true
	return nil
}

func (s *sumState) Combine(other State) error {
	o, ok := other.(*sumState)
	if !ok {
		return errs.New(errs.InvariantViolation, "combining mismatched aggregator states")
	}
	s.intSum += o.intSum
	s.floatSum += o.floatSum
	s.sawFloat = s.sawFloat || o.sawFloat
	s.sawAny = s.sawAny || o.sawAny
	return nil
}

func (s *sumState) Finalize() types.Value {
	if !s.sawAny {
		return types.NA()
	}
	if s.sawFloat {
		return types.NewFloat(s.floatSum + float64(s.intSum))
	}
	return types.NewInt(s.intSum)
}

type minMaxAggregator struct {
	keepMin bool
	name    string
}

func (a minMaxAggregator) NewState() State {
	return &minMaxState{keepMin: a.keepMin}
}

func (minMaxAggregator) OutputType(input types.Type) types.Type { return input }
func (a minMaxAggregator) String() string { return a.name }

type minMaxState struct {
	keepMin bool
	best    types.Value
	sawAny  bool
}

func (s *minMaxState) AddRow(v types.Value) error {
	if v.IsNA() {
		return nil
	}
	if !s.sawAny {
		s.best = v
		s.sawAny = true
		return nil
	}
	c := v.Compare(s.best)
	if (s.keepMin && c < 0) || (!s.keepMin && c > 0) {
		s.best = v
	}
	return nil
}

func (s *minMaxState) Combine(other State) error {
	o, ok := other.(*minMaxState)
	if !ok {
		return errs.New(errs.InvariantViolation, "combining mismatched aggregator states")
	}
	if o.sawAny {
		return s.AddRow(o.best)
	}
	return nil
}

func (s *minMaxState) Finalize() types.Value {
	if !s.sawAny {
		return types.NA()
	}
	return s.best
}

type avgAggregator struct{}

func (avgAggregator) NewState() State                          { return &avgState{} }
func (avgAggregator) OutputType(input types.Type) types.Type { return types.FloatType }
func (avgAggregator) String() string { return "AVG" }

type avgState struct {
	sum float64
	n   int64
}

func (s *avgState) AddRow(v types.Value) error {
	if v.IsNA() {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return errs.New(errs.Unsupported, "cannot average value of type %s", v.Tag())
	}
	s.sum += f
	s.n++
	return nil
}

func (s *avgState) Combine(other State) error {
	o, ok := other.(*avgState)
	if !ok {
		return errs.New(errs.InvariantViolation, "combining mismatched aggregator states")
	}
	s.sum += o.sum
	s.n += o.n
	return nil
}

func (s *avgState) Finalize() types.Value {
	if s.n == 0 {
		return types.NA()
	}
	return types.NewFloat(s.sum / float64(s.n))
}
