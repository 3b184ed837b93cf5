package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/compiler"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract.
type Artifact struct {
	ABI      abi.ABI
	Bytecode []byte
}

// Compiler produces the token artifact.
type Compiler interface {
	Compile(ctx context.Context) (*Artifact, error)
}

// SolcCompiler compiles a Solidity source with the solc binary.
type SolcCompiler struct {
	// Path to solc. Defaults to "solc" on $PATH.
	Path string
	// Source and Name select the contract. Default to the token.
	Source string
	Name   string
}

// Compile runs solc --combined-json abi,bin over the source.
func (s *SolcCompiler) Compile(ctx context.Context) (*Artifact, error) {
	path, source, name := s.Path, s.Source, s.Name
	if path == "" {
		path = "solc"
	}
	if source == "" {
		source = TokenSource
	}
	if name == "" {
		name = TokenName
	}

	cmd := exec.CommandContext(ctx, path, "--combined-json", "abi,bin", "-")
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("solc: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseCombinedJSON(stdout.Bytes(), source, name)
}

// ParseCombinedJSON extracts contract name from solc's combined JSON output.
func ParseCombinedJSON(output []byte, source, name string) (*Artifact, error) {
	contracts, err := compiler.ParseCombinedJSON(output, source, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("parse solc output: %w", err)
	}
	for key, c := range contracts {
		if key != name && !strings.HasSuffix(key, ":"+name) {
			continue
		}
		abiJSON, err := json.Marshal(c.Info.AbiDefinition)
		if err != nil {
			return nil, fmt.Errorf("marshal abi: %w", err)
		}
		return newArtifact(abiJSON, c.Code)
	}
	return nil, fmt.Errorf("contract %s not found in solc output", name)
}

// FileCompiler loads a precompiled artifact instead of invoking solc.
// The file holds {"abi": [...], "bytecode": "0x..."}; bytecode may also be
// {"object": "..."} as in solc standard JSON output.
type FileCompiler struct {
	Path string
}

// Compile reads and decodes the artifact file.
func (f *FileCompiler) Compile(context.Context) (*Artifact, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var raw struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", f.Path, err)
	}

	var code string
	if err := json.Unmarshal(raw.Bytecode, &code); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw.Bytecode, &obj); err != nil {
			return nil, fmt.Errorf("artifact %s: bytecode must be a string or {object}", f.Path)
		}
		code = obj.Object
	}
	return newArtifact(raw.ABI, code)
}

func newArtifact(abiJSON []byte, code string) (*Artifact, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	bytecode, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("empty bytecode")
	}
	return &Artifact{ABI: parsed, Bytecode: bytecode}, nil
}

// CachedCompiler compiles once and reuses the artifact. A failed
// compilation is not cached.
type CachedCompiler struct {
	inner Compiler

	mu       sync.Mutex
	artifact *Artifact
}

// NewCachedCompiler wraps inner.
func NewCachedCompiler(inner Compiler) *CachedCompiler {
	return &CachedCompiler{inner: inner}
}

// Compile returns the cached artifact or compiles it.
func (c *CachedCompiler) Compile(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact != nil {
		return c.artifact, nil
	}
	a, err := c.inner.Compile(ctx)
	if err != nil {
		return nil, err
	}
	c.artifact = a
	return a, nil
}
