// challengectl is the per-build manifest/WASM generation and
// verification tool.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synnergy-labs/challenge-gate/bytecode"
	"github.com/synnergy-labs/challenge-gate/wasmgen"
)

var logger = logrus.StandardLogger()

var rootCmd = &cobra.Command{
	Use:   "challengectl",
	Short: "Per-build bytecode manifest and WASM generation tool",
}

var outDir string
var buildID string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a fresh bytecodes.json manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := bytecode.Generate(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("generate: create out dir: %w", err)
		}
		if err := bytecode.WriteManifest(outDir, m); err != nil {
			return fmt.Errorf("generate: write manifest: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote manifest with %d bound opcodes to %s/bytecodes.json\n", len(m.Bytecodes), outDir)
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Inject the current manifest into the C template and compile it to WASM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifestPath := outDir + "/bytecodes.json"
		m, err := bytecode.LoadManifestFile(manifestPath)
		if err != nil {
			return fmt.Errorf("build: load manifest: %w", err)
		}
		source, err := wasmgen.Inject(m, buildID)
		if err != nil {
			return fmt.Errorf("build: inject: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), wasmgen.CompileTimeout)
		defer cancel()
		wasmBytes, err := wasmgen.Compile(ctx, outDir, source)
		if err != nil {
			logger.WithError(err).Error("build: compile failed, retaining injected source for inspection")
			return fmt.Errorf("build: compile: %w", err)
		}
		wasmPath := outDir + "/challenge.wasm"
		if err := os.WriteFile(wasmPath, wasmBytes, 0o644); err != nil {
			return fmt.Errorf("build: write wasm: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %d bytes to %s\n", len(wasmBytes), wasmPath)
		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Round-trip a manifest's invariants (opcode/action bijection, S-box inverse)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifestPath := outDir + "/bytecodes.json"
		m, err := bytecode.LoadManifestFile(manifestPath)
		if err != nil {
			return fmt.Errorf("lint: load manifest: %w", err)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("lint: %w", err)
		}
		for i, v := range m.VM {
			if m.VMInv[v] != byte(i) {
				return fmt.Errorf("lint: vm_inv[vm[%d]] != %d", i, i)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "manifest is internally consistent")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outDir, "out", "build", "directory containing/receiving bytecodes.json and challenge.wasm")
	buildCmd.Flags().StringVar(&buildID, "build-id", "dev", "build identifier embedded in the compiled WASM")
	rootCmd.AddCommand(generateCmd, buildCmd, lintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}
