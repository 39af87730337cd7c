package onnx

import (
	"math"
	"testing"
)

// evalGraph interprets the operators this package emits, following ONNX
// Runtime semantics, so artifacts can be checked without a native runtime.
func evalGraph(t *testing.T, mp *ModelProto, rows [][]float32) ([]int64, []float32) {
	t.Helper()

	floats := map[string][]float32{}
	ints := map[string][]int64{}
	bools := map[string][]bool{}
	for _, init := range mp.Graph.Initializers {
		switch init.DataType {
		case DataTypeFloat:
			floats[init.Name] = init.FloatData
		case DataTypeInt64:
			ints[init.Name] = init.Int64Data
		default:
			t.Fatalf("initializer %s: unexpected type %d", init.Name, init.DataType)
		}
	}

	for _, n := range mp.Graph.Nodes {
		switch n.OpType {
		case "TreeEnsembleRegressor":
			floats[n.Outputs[0]] = evalTreeEnsemble(t, n, rows)
		case "Div", "Sub", "Pow":
			a, b := floats[n.Inputs[0]], floats[n.Inputs[1]]
			floats[n.Outputs[0]] = broadcast(t, a, b, func(x, y float32) float32 {
				switch n.OpType {
				case "Div":
					return x / y
				case "Sub":
					return x - y
				default:
					return float32(math.Pow(float64(x), float64(y)))
				}
			})
		case "Neg":
			in := floats[n.Inputs[0]]
			out := make([]float32, len(in))
			for i, v := range in {
				out[i] = -v
			}
			floats[n.Outputs[0]] = out
		case "Less":
			a, b := floats[n.Inputs[0]], floats[n.Inputs[1]]
			require1(t, b)
			out := make([]bool, len(a))
			for i, v := range a {
				out[i] = v < b[0]
			}
			bools[n.Outputs[0]] = out
		case "Where":
			cond, x, y := bools[n.Inputs[0]], ints[n.Inputs[1]], ints[n.Inputs[2]]
			require1(t, x)
			require1(t, y)
			out := make([]int64, len(cond))
			for i, c := range cond {
				if c {
					out[i] = x[0]
				} else {
					out[i] = y[0]
				}
			}
			ints[n.Outputs[0]] = out
		default:
			t.Fatalf("unexpected op %s", n.OpType)
		}
	}
	return ints[OutputLabel], floats[OutputScores]
}

func evalTreeEnsemble(t *testing.T, n NodeProto, rows [][]float32) []float32 {
	t.Helper()

	attrs := map[string]AttributeProto{}
	for _, a := range n.Attributes {
		attrs[a.Name] = a
	}
	if string(attrs["aggregate_function"].S) != "AVERAGE" || string(attrs["post_transform"].S) != "NONE" {
		t.Fatalf("unexpected aggregation attributes")
	}

	treeIDs := attrs["nodes_treeids"].Ints
	nodeIDs := attrs["nodes_nodeids"].Ints
	pos := map[[2]int64]int{}
	trees := map[int64]struct{}{}
	for i := range treeIDs {
		pos[[2]int64{treeIDs[i], nodeIDs[i]}] = i
		trees[treeIDs[i]] = struct{}{}
	}
	weights := map[[2]int64]float32{}
	tt, tn, tw := attrs["target_treeids"].Ints, attrs["target_nodeids"].Ints, attrs["target_weights"].Floats
	for i := range tt {
		weights[[2]int64{tt[i], tn[i]}] += tw[i]
	}

	out := make([]float32, len(rows))
	for r, row := range rows {
		var sum float32
		for tree := range trees {
			node := int64(0)
			for {
				i, ok := pos[[2]int64{tree, node}]
				if !ok {
					t.Fatalf("tree %d: missing node %d", tree, node)
				}
				mode := string(attrs["nodes_modes"].Strings[i])
				if mode == "LEAF" {
					sum += weights[[2]int64{tree, node}]
					break
				}
				if mode != "BRANCH_LEQ" {
					t.Fatalf("unexpected mode %s", mode)
				}
				if row[attrs["nodes_featureids"].Ints[i]] <= attrs["nodes_values"].Floats[i] {
					node = attrs["nodes_truenodeids"].Ints[i]
				} else {
					node = attrs["nodes_falsenodeids"].Ints[i]
				}
			}
		}
		out[r] = sum / float32(len(trees))
	}
	return out
}

func broadcast(t *testing.T, a, b []float32, fn func(x, y float32) float32) []float32 {
	t.Helper()
	n := max(len(a), len(b))
	at := func(v []float32, i int) float32 {
		if len(v) == 1 {
			return v[0]
		}
		if i >= len(v) {
			t.Fatalf("shape mismatch: %d vs %d", len(a), len(b))
		}
		return v[i]
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = fn(at(a, i), at(b, i))
	}
	return out
}

func require1[T any](t *testing.T, v []T) {
	t.Helper()
	if len(v) != 1 {
		t.Fatalf("want scalar, got %d values", len(v))
	}
}
