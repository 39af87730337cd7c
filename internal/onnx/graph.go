package onnx

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/model"
)

// Graph interface names.
const (
	InputName    = "float_input"
	OutputLabel  = "label"
	OutputScores = "scores"
)

// Opset domains and versions written into every artifact.
const (
	IRVersion      = 8
	DomainML       = "ai.onnx.ml"
	OpsetDefault   = 15
	OpsetML        = 3
	producerName   = "txn-anomaly-lab"
	graphName      = "isolation_forest"
	treeEnsembleOp = "TreeEnsembleRegressor"
)

// Metadata keys.
const (
	MetaFeatureColumns = "feature_columns"
	MetaContamination  = "contamination"
	MetaRandomSeed     = "random_seed"
	MetaOffset         = "offset"
	MetaNumEstimators  = "n_estimators"
	MetaMaxSamples     = "max_samples"
	MetaWindowSeconds  = "window_seconds"
	MetaDatasetID      = "dataset_id"
)

// Options controls artifact identity fields.
type Options struct {
	// Columns names the input columns in order. Defaults to domain.FeatureColumns.
	Columns         []string
	ProducerVersion string
	ModelVersion    int64
	// Metadata is merged into the artifact's metadata props.
	Metadata map[string]string
}

func (o Options) columns() []string {
	if len(o.Columns) == 0 {
		return domain.FeatureColumns
	}
	return o.Columns
}

// buildForestGraph translates a fitted isolation forest into a graph that
// reproduces DecisionFunction and Predict:
//
//	path   = TreeEnsembleRegressor(float_input)  (mean leaf path length)
//	scores = -(2 ^ -(path / c)) - offset
//	label  = scores < 0 ? -1 : 1
func buildForestGraph(f *model.IsolationForest, opts Options) (*ModelProto, error) {
	columns := opts.columns()
	if f.NumFeatures() != len(columns) {
		return nil, exportErrorf(ErrSchemaMismatch, "model has %d features, input declares %d", f.NumFeatures(), len(columns))
	}
	if len(f.Trees) == 0 {
		return nil, exportErrorf(ErrUnrepresentable, "forest has no trees")
	}

	ensemble, err := treeEnsembleNode(f, len(columns))
	if err != nil {
		return nil, err
	}

	normalizer := float32(f.Normalizer())
	offset := float32(f.Offset)
	if !finite32(normalizer) || !finite32(offset) {
		return nil, exportErrorf(ErrUnrepresentable, "normalizer %v or offset %v is not finite", f.Normalizer(), f.Offset)
	}

	graph := &GraphProto{
		Name: graphName,
		Nodes: []NodeProto{
			*ensemble,
			op("Div", "normalize", []string{"path_length", "path_normalizer"}, "normalized_depth"),
			op("Neg", "negate_depth", []string{"normalized_depth"}, "negated_depth"),
			op("Pow", "isolation", []string{"two", "negated_depth"}, "isolation"),
			op("Neg", "score_samples", []string{"isolation"}, "score_samples"),
			op("Sub", "decision", []string{"score_samples", "offset"}, OutputScores),
			op("Less", "is_anomaly", []string{OutputScores, "zero"}, "is_anomaly"),
			op("Where", "label", []string{"is_anomaly", "label_anomaly", "label_inlier"}, OutputLabel),
		},
		Initializers: []TensorProto{
			scalarFloat("path_normalizer", normalizer),
			scalarFloat("two", 2),
			scalarFloat("offset", offset),
			scalarFloat("zero", 0),
			scalarInt64("label_anomaly", -1),
			scalarInt64("label_inlier", 1),
		},
		Inputs: []ValueInfoProto{
			{Name: InputName, ElemType: DataTypeFloat, Shape: []Dim{{Param: "N"}, {Value: int64(len(columns))}}},
		},
		Outputs: []ValueInfoProto{
			{Name: OutputLabel, ElemType: DataTypeInt64, Shape: []Dim{{Param: "N"}, {Value: 1}}},
			{Name: OutputScores, ElemType: DataTypeFloat, Shape: []Dim{{Param: "N"}, {Value: 1}}},
		},
	}

	modelVersion := opts.ModelVersion
	if modelVersion == 0 {
		modelVersion = 1
	}

	return &ModelProto{
		IRVersion:       IRVersion,
		ProducerName:    producerName,
		ProducerVersion: opts.ProducerVersion,
		ModelVersion:    modelVersion,
		DocString:       "Isolation forest anomaly detector over per-transaction behavioral features.",
		Graph:           graph,
		OpsetImports: []OperatorSetID{
			{Domain: "", Version: OpsetDefault},
			{Domain: DomainML, Version: OpsetML},
		},
		MetadataProps: forestMetadata(f, columns, opts.Metadata),
	}, nil
}

// treeEnsembleNode flattens every tree into the parallel attribute arrays
// of ai.onnx.ml TreeEnsembleRegressor. Leaves carry their path length as
// the target weight; AVERAGE aggregation then yields the mean path length.
func treeEnsembleNode(f *model.IsolationForest, numFeatures int) (*NodeProto, error) {
	var (
		treeIDs, nodeIDs, featureIDs []int64
		trueIDs, falseIDs            []int64
		values                       []float32
		modes                        [][]byte
		targetTreeIDs, targetNodeIDs []int64
		targetIDs                    []int64
		targetWeights                []float32
	)
	branch, leaf := []byte("BRANCH_LEQ"), []byte("LEAF")

	for ti, t := range f.Trees {
		if t == nil || len(t.Nodes) == 0 {
			return nil, exportErrorf(ErrUnrepresentable, "tree %d is empty", ti)
		}
		for ni := range t.Nodes {
			n := &t.Nodes[ni]
			treeIDs = append(treeIDs, int64(ti))
			nodeIDs = append(nodeIDs, int64(ni))

			if n.IsLeaf() {
				weight := float32(n.PathLength())
				if !finite32(weight) {
					return nil, exportErrorf(ErrUnrepresentable, "tree %d node %d: leaf weight %v", ti, ni, n.PathLength())
				}
				featureIDs = append(featureIDs, 0)
				values = append(values, 0)
				modes = append(modes, leaf)
				trueIDs = append(trueIDs, 0)
				falseIDs = append(falseIDs, 0)

				targetTreeIDs = append(targetTreeIDs, int64(ti))
				targetNodeIDs = append(targetNodeIDs, int64(ni))
				targetIDs = append(targetIDs, 0)
				targetWeights = append(targetWeights, weight)
				continue
			}

			if n.Feature < 0 || n.Feature >= numFeatures {
				return nil, exportErrorf(ErrUnrepresentable, "tree %d node %d: feature index %d", ti, ni, n.Feature)
			}
			if !finite32(n.Threshold) {
				return nil, exportErrorf(ErrUnrepresentable, "tree %d node %d: threshold %v", ti, ni, n.Threshold)
			}
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, exportErrorf(ErrUnrepresentable, "tree %d node %d: child index out of range", ti, ni)
			}
			featureIDs = append(featureIDs, int64(n.Feature))
			values = append(values, n.Threshold)
			modes = append(modes, branch)
			trueIDs = append(trueIDs, int64(n.Left))
			falseIDs = append(falseIDs, int64(n.Right))
		}
	}

	return &NodeProto{
		Inputs:  []string{InputName},
		Outputs: []string{"path_length"},
		Name:    "path_length",
		OpType:  treeEnsembleOp,
		Domain:  DomainML,
		Attributes: []AttributeProto{
			stringAttr("aggregate_function", "AVERAGE"),
			intAttr("n_targets", 1),
			intsAttr("nodes_falsenodeids", falseIDs),
			intsAttr("nodes_featureids", featureIDs),
			{Name: "nodes_modes", Type: AttributeStrings, Strings: modes},
			intsAttr("nodes_nodeids", nodeIDs),
			intsAttr("nodes_treeids", treeIDs),
			intsAttr("nodes_truenodeids", trueIDs),
			floatsAttr("nodes_values", values),
			stringAttr("post_transform", "NONE"),
			intsAttr("target_ids", targetIDs),
			intsAttr("target_nodeids", targetNodeIDs),
			intsAttr("target_treeids", targetTreeIDs),
			floatsAttr("target_weights", targetWeights),
		},
	}, nil
}

// forestMetadata returns the metadata props sorted by key.
func forestMetadata(f *model.IsolationForest, columns []string, extra map[string]string) []StringEntry {
	props := map[string]string{
		MetaFeatureColumns: strings.Join(columns, ","),
		MetaContamination:  strconv.FormatFloat(f.Params.Contamination, 'g', -1, 64),
		MetaRandomSeed:     strconv.FormatInt(f.Params.Seed, 10),
		MetaOffset:         strconv.FormatFloat(f.Offset, 'g', -1, 64),
		MetaNumEstimators:  strconv.Itoa(len(f.Trees)),
		MetaMaxSamples:     strconv.Itoa(f.MaxSamples),
	}
	for k, v := range extra {
		props[k] = v
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]StringEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, StringEntry{Key: k, Value: props[k]})
	}
	return out
}

func op(opType, name string, inputs []string, output string) NodeProto {
	return NodeProto{Inputs: inputs, Outputs: []string{output}, Name: name, OpType: opType}
}

func scalarFloat(name string, v float32) TensorProto {
	return TensorProto{Name: name, DataType: DataTypeFloat, FloatData: []float32{v}}
}

func scalarInt64(name string, v int64) TensorProto {
	return TensorProto{Name: name, DataType: DataTypeInt64, Int64Data: []int64{v}}
}

func stringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeString, S: []byte(v)}
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeInt, I: v}
}

func intsAttr(name string, v []int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeInts, Ints: v}
}

func floatsAttr(name string, v []float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeFloats, Floats: v}
}

func finite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
