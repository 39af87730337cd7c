// Package main prints the input/output contract of an exported model and
// optionally checks its fingerprint.
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/idhash"
	"txn-anomaly-lab/internal/onnx"
)

func main() {
	modelPath := flag.String("model", "fraud_model.onnx", "ONNX artifact to inspect")
	fingerprint := flag.String("fingerprint", "", "Expected artifact fingerprint (optional)")
	flag.Parse()

	data, err := os.ReadFile(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", &onnx.IOError{Path: *modelPath, Op: "read", Err: err})
		os.Exit(1)
	}

	contract, err := onnx.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", *modelPath, err)
		os.Exit(1)
	}

	printContract(*modelPath, contract, idhash.ComputeArtifactFingerprint(data))

	failed := false
	if err := contract.Check(domain.FeatureColumns); err != nil {
		fmt.Fprintf(os.Stderr, "Contract check failed: %v\n", err)
		failed = true
	}

	if *fingerprint != "" {
		ok, err := idhash.MatchArtifactFingerprint(data, *fingerprint)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "Invalid fingerprint: %v\n", err)
			failed = true
		case !ok:
			fmt.Fprintln(os.Stderr, "Fingerprint mismatch")
			failed = true
		default:
			fmt.Println("Fingerprint: OK")
		}
	}

	if failed {
		os.Exit(1)
	}
}

func printContract(path string, c *onnx.Contract, fp string) {
	fmt.Printf("Model: %s (%d bytes)\n", path, c.Size)
	fmt.Printf("  Producer: %s\n", c.Producer)
	fmt.Printf("  IR version: %d\n", c.IRVersion)

	domains := make([]string, 0, len(c.Opsets))
	for d := range c.Opsets {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	for _, d := range domains {
		name := d
		if name == "" {
			name = "ai.onnx"
		}
		fmt.Printf("  Opset %s: %d\n", name, c.Opsets[d])
	}

	for _, in := range c.Inputs {
		fmt.Printf("  Input  %-12s %-6s [%s]\n", in.Name, in.ElemType, strings.Join(in.Shape, ", "))
	}
	for _, out := range c.Outputs {
		fmt.Printf("  Output %-12s %-6s [%s]\n", out.Name, out.ElemType, strings.Join(out.Shape, ", "))
	}
	fmt.Printf("  Operators: %s\n", strings.Join(c.OpTypes, " → "))
	fmt.Printf("  Trees: %d (%d nodes)\n", c.Trees, c.TreeNodes)

	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fmt.Println("  Metadata:")
	for _, k := range keys {
		fmt.Printf("    %s: %s\n", k, c.Metadata[k])
	}
	fmt.Printf("  Fingerprint: %s\n", fp)
}
