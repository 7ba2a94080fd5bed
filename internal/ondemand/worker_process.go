package ondemand

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// wireRequest is the JSON shape written to a renderer worker's stdin, one
// object per line.
type wireRequest struct {
	ProjectPath      string      `json:"project_path"`
	OutputFile       string      `json:"output_file"`
	Z                int         `json:"z"`
	X                int         `json:"x"`
	Y                int         `json:"y"`
	Bbox             [4]float64  `json:"bbox"`
	TileCRS          string      `json:"tile_crs"`
	Layer            string      `json:"layer,omitempty"`
	Theme            string      `json:"theme,omitempty"`
	TileMatrixPreset string      `json:"tile_matrix_preset,omitempty"`
	SID              string      `json:"_sid,omitempty"`
}

type wireResponse struct {
	OutputFile string `json:"output_file"`
	Error      string `json:"error,omitempty"`
}

// ProcessWorker drives one long-lived renderer child process over its
// stdin/stdout, serializing requests since the child handles one render
// at a time.
type ProcessWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewProcessWorker spawns binPath with args and wires up its stdio for
// the request/response protocol of §4.7.
func NewProcessWorker(binPath string, args ...string) (*ProcessWorker, error) {
	cmd := exec.Command(binPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ondemand: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ondemand: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ondemand: start renderer worker: %w", err)
	}

	return &ProcessWorker{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout)}, nil
}

// Render sends one request and blocks for its response line.
func (w *ProcessWorker) Render(req Request) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wire := wireRequest{
		ProjectPath:      req.ProjectID,
		OutputFile:       req.OutputFile,
		Z:                req.Z,
		X:                req.X,
		Y:                req.Y,
		Bbox:             req.Bbox,
		TileCRS:          req.TileCRS,
		Layer:            req.Layer,
		Theme:            req.Theme,
		TileMatrixPreset: req.TileMatrixPreset,
		SID:              req.SessionID,
	}
	line, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("ondemand: write to renderer worker: %w", err)
	}

	respLine, err := w.reader.ReadBytes('\n')
	if err != nil {
		return "", fmt.Errorf("ondemand: read from renderer worker: %w", err)
	}
	var resp wireResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return "", fmt.Errorf("ondemand: decode renderer worker response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ondemand: renderer worker: %s", resp.Error)
	}
	return resp.OutputFile, nil
}

// Close terminates the renderer worker process.
func (w *ProcessWorker) Close() error {
	_ = w.stdin.Close()
	return w.cmd.Process.Kill()
}
