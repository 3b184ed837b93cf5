package contract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const combinedJSON = `{
  "contracts": {
    "<stdin>:Token": {
      "abi": [{"type":"constructor","inputs":[{"name":"_initialSupply","type":"uint256"}],"stateMutability":"nonpayable"},
              {"type":"function","name":"transfer","inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"outputs":[{"name":"success","type":"bool"}],"stateMutability":"nonpayable"}],
      "bin": "6080604052348015600e575f80fd5b50"
    }
  },
  "version": "0.8.20+commit.a1b79de6.Linux.g++"
}`

func TestParseCombinedJSON(t *testing.T) {
	a, err := ParseCombinedJSON([]byte(combinedJSON), TokenSource, TokenName)
	if err != nil {
		t.Fatalf("ParseCombinedJSON: %v", err)
	}
	if _, ok := a.ABI.Methods["transfer"]; !ok {
		t.Error("transfer missing from ABI")
	}
	if len(a.ABI.Constructor.Inputs) != 1 {
		t.Errorf("constructor inputs = %d", len(a.ABI.Constructor.Inputs))
	}
	if len(a.Bytecode) != 16 || a.Bytecode[0] != 0x60 {
		t.Errorf("bytecode = %x", a.Bytecode)
	}

	if _, err := ParseCombinedJSON([]byte(combinedJSON), TokenSource, "Missing"); err == nil {
		t.Error("expected error for unknown contract")
	}
}

func TestSolcCompilerRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script solc stub")
	}
	dir := t.TempDir()
	fixture := filepath.Join(dir, "out.json")
	if err := os.WriteFile(fixture, []byte(combinedJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	solc := filepath.Join(dir, "solc")
	script := "#!/bin/sh\ncat > /dev/null\ncat " + fixture + "\n"
	if err := os.WriteFile(solc, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	a, err := (&SolcCompiler{Path: solc}).Compile(context.Background())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(a.Bytecode) == 0 {
		t.Error("empty bytecode")
	}
}

func TestSolcCompilerMissingBinary(t *testing.T) {
	_, err := (&SolcCompiler{Path: filepath.Join(t.TempDir(), "nope")}).Compile(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFileCompiler(t *testing.T) {
	tests := []struct {
		name     string
		artifact string
		wantErr  bool
	}{
		{"string bytecode", `{"abi":[],"bytecode":"0x6080"}`, false},
		{"object bytecode", `{"abi":[],"bytecode":{"object":"6080"}}`, false},
		{"empty bytecode", `{"abi":[],"bytecode":"0x"}`, true},
		{"bad json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "Token.json")
			if err := os.WriteFile(path, []byte(tt.artifact), 0o600); err != nil {
				t.Fatal(err)
			}
			a, err := (&FileCompiler{Path: path}).Compile(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if len(a.Bytecode) != 2 {
				t.Errorf("bytecode = %x", a.Bytecode)
			}
		})
	}
}

type countingCompiler struct {
	calls int
	fail  bool
}

func (c *countingCompiler) Compile(context.Context) (*Artifact, error) {
	c.calls++
	if c.fail {
		c.fail = false
		return nil, errors.New("transient")
	}
	return &Artifact{Bytecode: []byte{1}}, nil
}

func TestCachedCompiler(t *testing.T) {
	inner := &countingCompiler{fail: true}
	c := NewCachedCompiler(inner)

	if _, err := c.Compile(context.Background()); err == nil {
		t.Fatal("expected first compile to fail")
	}
	first, err := c.Compile(context.Background())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, _ := c.Compile(context.Background())
	if first != second {
		t.Error("artifact not cached")
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}
