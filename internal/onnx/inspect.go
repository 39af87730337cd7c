package onnx

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// TensorInfo describes a graph input or output.
type TensorInfo struct {
	Name     string
	ElemType string
	Shape    []string
}

// Contract is the externally visible interface of an artifact.
type Contract struct {
	IRVersion int64
	Producer  string
	Opsets    map[string]int64
	Inputs    []TensorInfo
	Outputs   []TensorInfo
	OpTypes   []string
	Trees     int
	TreeNodes int
	Metadata  map[string]string
	Size      int
}

// Decode parses an artifact and summarizes its contract.
func Decode(data []byte) (*Contract, error) {
	mp, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if mp.Graph == nil {
		return nil, fmt.Errorf("%w: no graph", ErrMalformedModel)
	}

	c := &Contract{
		IRVersion: mp.IRVersion,
		Producer:  mp.ProducerName,
		Opsets:    make(map[string]int64, len(mp.OpsetImports)),
		Metadata:  make(map[string]string, len(mp.MetadataProps)),
		Size:      len(data),
	}
	for _, op := range mp.OpsetImports {
		c.Opsets[op.Domain] = op.Version
	}
	for _, e := range mp.MetadataProps {
		c.Metadata[e.Key] = e.Value
	}
	for _, vi := range mp.Graph.Inputs {
		c.Inputs = append(c.Inputs, tensorInfo(vi))
	}
	for _, vi := range mp.Graph.Outputs {
		c.Outputs = append(c.Outputs, tensorInfo(vi))
	}
	for i := range mp.Graph.Nodes {
		n := &mp.Graph.Nodes[i]
		c.OpTypes = append(c.OpTypes, n.OpType)
		if n.OpType != treeEnsembleOp {
			continue
		}
		for _, a := range n.Attributes {
			if a.Name != "nodes_treeids" {
				continue
			}
			c.TreeNodes = len(a.Ints)
			seen := make(map[int64]struct{})
			for _, id := range a.Ints {
				seen[id] = struct{}{}
			}
			c.Trees = len(seen)
		}
	}
	return c, nil
}

// Inspect reads and decodes the artifact at path.
func Inspect(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "read", Err: err}
	}
	return Decode(data)
}

// Check verifies the artifact accepts a [N, len(columns)] float tensor named
// float_input, emits label and scores, and records columns in its metadata.
func (c *Contract) Check(columns []string) error {
	var errs []error

	if len(c.Inputs) != 1 {
		errs = append(errs, fmt.Errorf("want 1 input, got %d", len(c.Inputs)))
	} else {
		in := c.Inputs[0]
		want := TensorInfo{Name: InputName, ElemType: "float", Shape: []string{"N", fmt.Sprint(len(columns))}}
		if in.Name != want.Name || in.ElemType != want.ElemType || !slices.Equal(in.Shape, want.Shape) {
			errs = append(errs, fmt.Errorf("input %s %s %v, want %s %s %v",
				in.Name, in.ElemType, in.Shape, want.Name, want.ElemType, want.Shape))
		}
	}

	outputs := make([]string, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		outputs = append(outputs, o.Name)
	}
	if !slices.Equal(outputs, []string{OutputLabel, OutputScores}) {
		errs = append(errs, fmt.Errorf("outputs %v, want [%s %s]", outputs, OutputLabel, OutputScores))
	}

	if got := c.Metadata[MetaFeatureColumns]; got != strings.Join(columns, ",") {
		errs = append(errs, fmt.Errorf("feature_columns %q", got))
	}
	if c.Opsets[""] != OpsetDefault || c.Opsets[DomainML] != OpsetML {
		errs = append(errs, fmt.Errorf("opsets %v", c.Opsets))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrContract, errors.Join(errs...))
	}
	return nil
}

func tensorInfo(vi ValueInfoProto) TensorInfo {
	ti := TensorInfo{Name: vi.Name, ElemType: elemTypeName(vi.ElemType)}
	for _, d := range vi.Shape {
		if d.Param != "" {
			ti.Shape = append(ti.Shape, d.Param)
		} else {
			ti.Shape = append(ti.Shape, fmt.Sprint(d.Value))
		}
	}
	return ti
}

func elemTypeName(t int32) string {
	switch t {
	case DataTypeFloat:
		return "float"
	case DataTypeInt64:
		return "int64"
	case DataTypeBool:
		return "bool"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}
