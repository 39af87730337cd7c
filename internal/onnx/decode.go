package onnx

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedModel is returned when bytes do not decode as an ONNX model.
var ErrMalformedModel = errors.New("malformed onnx model")

// Unmarshal decodes the fields of an ONNX model this package understands.
// Unknown fields are skipped.
func Unmarshal(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			m.IRVersion = int64(x)
		case 2:
			m.ProducerName = string(v)
		case 3:
			m.ProducerVersion = string(v)
		case 4:
			m.Domain = string(v)
		case 5:
			m.ModelVersion = int64(x)
		case 6:
			m.DocString = string(v)
		case 7:
			g, err := unmarshalGraph(v)
			if err != nil {
				return fmt.Errorf("graph: %w", err)
			}
			m.Graph = g
		case 8:
			var op OperatorSetID
			err := walk(v, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
				switch num {
				case 1:
					op.Domain = string(v)
				case 2:
					op.Version = int64(x)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			m.OpsetImports = append(m.OpsetImports, op)
		case 14:
			var e StringEntry
			err := walk(v, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
				switch num {
				case 1:
					e.Key = string(v)
				case 2:
					e.Value = string(v)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("metadata_props: %w", err)
			}
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walk(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case 1:
			n, err := unmarshalNode(v)
			if err != nil {
				return fmt.Errorf("node %d: %w", len(g.Nodes), err)
			}
			g.Nodes = append(g.Nodes, *n)
		case 2:
			g.Name = string(v)
		case 5:
			t, err := unmarshalTensor(v)
			if err != nil {
				return fmt.Errorf("initializer %d: %w", len(g.Initializers), err)
			}
			g.Initializers = append(g.Initializers, *t)
		case 10:
			g.DocString = string(v)
		case 11, 12:
			vi, err := unmarshalValueInfo(v)
			if err != nil {
				return fmt.Errorf("value_info: %w", err)
			}
			if num == 11 {
				g.Inputs = append(g.Inputs, *vi)
			} else {
				g.Outputs = append(g.Outputs, *vi)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func unmarshalNode(data []byte) (*NodeProto, error) {
	n := &NodeProto{}
	err := walk(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case 1:
			n.Inputs = append(n.Inputs, string(v))
		case 2:
			n.Outputs = append(n.Outputs, string(v))
		case 3:
			n.Name = string(v)
		case 4:
			n.OpType = string(v)
		case 5:
			a, err := unmarshalAttribute(v)
			if err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, *a)
		case 7:
			n.Domain = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func unmarshalAttribute(data []byte) (*AttributeProto, error) {
	a := &AttributeProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			a.Name = string(v)
		case 2:
			a.F = math.Float32frombits(uint32(x))
		case 3:
			a.I = int64(x)
		case 4:
			a.S = append([]byte(nil), v...)
		case 7:
			fs, err := repeatedFloat32(typ, v, x)
			if err != nil {
				return err
			}
			a.Floats = append(a.Floats, fs...)
		case 8:
			is, err := repeatedInt64(typ, v, x)
			if err != nil {
				return err
			}
			a.Ints = append(a.Ints, is...)
		case 9:
			a.Strings = append(a.Strings, append([]byte(nil), v...))
		case 20:
			a.Type = AttributeType(x)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	return a, nil
}

func unmarshalTensor(data []byte) (*TensorProto, error) {
	t := &TensorProto{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			is, err := repeatedInt64(typ, v, x)
			if err != nil {
				return err
			}
			t.Dims = append(t.Dims, is...)
		case 2:
			t.DataType = int32(x)
		case 4:
			fs, err := repeatedFloat32(typ, v, x)
			if err != nil {
				return err
			}
			t.FloatData = append(t.FloatData, fs...)
		case 7:
			is, err := repeatedInt64(typ, v, x)
			if err != nil {
				return err
			}
			t.Int64Data = append(t.Int64Data, is...)
		case 8:
			t.Name = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func unmarshalValueInfo(data []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	err := walk(data, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case 1:
			vi.Name = string(v)
		case 2:
			// TypeProto.tensor_type
			return walk(v, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
				if num != 1 {
					return nil
				}
				return walk(v, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
					switch num {
					case 1:
						vi.ElemType = int32(x)
					case 2:
						return walk(v, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
							if num != 1 {
								return nil
							}
							var d Dim
							err := walk(v, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
								switch num {
								case 1:
									d.Value = int64(x)
								case 2:
									d.Param = string(v)
								}
								return nil
							})
							vi.Shape = append(vi.Shape, d)
							return err
						})
					}
					return nil
				})
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vi, nil
}

// walk iterates the fields of one message. For bytes fields v holds the
// payload; for scalar fields x holds the raw value.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}
		data = data[n:]

		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var u uint32
			u, n = protowire.ConsumeFixed32(data)
			x = uint64(u)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

// repeatedFloat32 accepts both packed and unpacked encodings.
func repeatedFloat32(typ protowire.Type, v []byte, x uint64) ([]float32, error) {
	if typ == protowire.Fixed32Type {
		return []float32{math.Float32frombits(uint32(x))}, nil
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: unexpected wire type %d for float", ErrMalformedModel, typ)
	}
	out := make([]float32, 0, len(v)/4)
	for len(v) > 0 {
		u, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}
		out = append(out, math.Float32frombits(u))
		v = v[n:]
	}
	return out, nil
}

// repeatedInt64 accepts both packed and unpacked encodings.
func repeatedInt64(typ protowire.Type, v []byte, x uint64) ([]int64, error) {
	if typ == protowire.VarintType {
		return []int64{int64(x)}, nil
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: unexpected wire type %d for int64", ErrMalformedModel, typ)
	}
	var out []int64
	for len(v) > 0 {
		u, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}
		out = append(out, int64(u))
		v = v[n:]
	}
	return out, nil
}
