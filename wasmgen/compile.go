package wasmgen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CompileTimeout is the default external-compiler timeout.
const CompileTimeout = 60 * time.Second

// Exports is the complete export list linked into the compiled module.
var Exports = []string{
	"to_hex", "from_hex", "vm_apply", "vm_apply_inv", "vm_get", "vm_get_inv",
	"xor_buf", "crc32", "adler32", "xor_checksum",
	"read_u32be", "write_u32be", "read_u32le", "write_u32le",
	"rotl32", "rotr32", "swap32", "vm_run", "chacha_decrypt",
}

// Compile writes cSource to workDir and invokes the external clang
// wasm32 toolchain, returning the compiled module bytes. On compiler
// failure the injected source is left on disk with the command line
// logged so the invocation can be reproduced manually, and the step is
// never retried by this function; the caller must re-invoke Compile
// explicitly.
func Compile(ctx context.Context, workDir, cSource string) ([]byte, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("wasmgen: create work dir: %w", err)
	}
	srcPath := filepath.Join(workDir, "vm.c")
	outPath := filepath.Join(workDir, "vm.wasm")
	if err := os.WriteFile(srcPath, []byte(cSource), 0o644); err != nil {
		return nil, fmt.Errorf("wasmgen: write C source: %w", err)
	}

	args := []string{
		"--target=wasm32", "-nostdlib",
		"-Wl,--no-entry", "-Wl,--allow-undefined",
		"-Os", "-o", outPath,
	}
	for _, fn := range Exports {
		args = append(args, fmt.Sprintf("-Wl,--export=%s", fn))
	}
	args = append(args, srcPath)

	cctx, cancel := context.WithTimeout(ctx, CompileTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "clang", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"source":  srcPath,
			"command": "clang " + strings.Join(args, " "),
			"stderr":  stderr.String(),
		}).Error("wasmgen: compiler invocation failed; source retained for manual reproduction")
		return nil, fmt.Errorf("wasmgen: clang failed: %w", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("wasmgen: read compiled module: %w", err)
	}
	return out, nil
}
