// Package lifecycle implements the per-run supervisor: pre-run asset
// staging, the shared HTTP session, post-run telemetry export and backup
// reconciliation (spec §4.7).
//
// Grounded on internal/cli/executor.go's Execute/ExecuteWithExecutor flow
// (init workspace -> run -> finalize via defer), generalized from a local
// one-shot CLI invocation to a networked per-run lifecycle with an RPC
// round-trip to an external orchestrator.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"execengine/internal/telemetry"
)

// FileMapping is one entry of GlobalCache.origin_file_mapping: an origin
// location to stage into the run's scoped temp directory (spec §4.7).
type FileMapping struct {
	OriginPath string
	OriginURL  string // non-empty for a remote file, streamed chunk-by-chunk
	ExecPath   string // filled in by Stage
}

// Supervisor holds the HTTP client, backup store and orchestrator endpoint
// the run lifecycle hooks use. cmd/execengine builds one Supervisor for the
// process and every run shares it; stagingDir holds the latest Stage call's
// directory.
type Supervisor struct {
	Client   *resty.Client
	Backup   *telemetry.Backup
	RPCRouter string
	Logger   zerolog.Logger

	stagingDir string
}

// NewSupervisor builds a Supervisor with a pooled, traced HTTP client
// (spec §4.7: "per-host limit, TCP keepalive... per-request tracing").
func NewSupervisor(rpcRouter string, backup *telemetry.Backup, logger zerolog.Logger) *Supervisor {
	client := resty.New().
		SetTransport(&http.Transport{
			MaxIdleConnsPerHost: 20,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90,
		}).
		SetHeader("X-Internal-Only", "execengine-lifecycle").
		EnableTrace()

	s := &Supervisor{
		Client:    client,
		Backup:    backup,
		RPCRouter: rpcRouter,
		Logger:    logger,
	}

	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		ti := resp.Request.TraceInfo()
		s.Logger.Debug().
			Str("url", resp.Request.URL).
			Dur("conn", ti.ConnTime).
			Dur("ttfb", ti.ServerTime).
			Dur("total", ti.TotalTime).
			Msg("lifecycle: outbound request timing")
		return nil
	})

	return s
}

// Stage copies each FileMapping's origin content into a task-scoped temp
// directory, recording its ExecPath; remote files are streamed
// chunk-by-chunk via io.Copy (spec §4.7).
func (s *Supervisor) Stage(ctx context.Context, taskID string, mappings []FileMapping) ([]FileMapping, error) {
	dir, err := os.MkdirTemp("", "execengine-"+taskID+"-")
	if err != nil {
		return nil, fmt.Errorf("lifecycle: staging dir: %w", err)
	}
	s.stagingDir = dir

	staged := make([]FileMapping, len(mappings))
	for i, m := range mappings {
		dest := filepath.Join(dir, fmt.Sprintf("file-%d", i))
		if m.OriginURL != "" {
			if err := s.stageRemote(ctx, m.OriginURL, dest); err != nil {
				return nil, fmt.Errorf("lifecycle: staging %q: %w", m.OriginURL, err)
			}
		} else {
			if err := stageLocal(m.OriginPath, dest); err != nil {
				return nil, fmt.Errorf("lifecycle: staging %q: %w", m.OriginPath, err)
			}
		}
		m.ExecPath = dest
		staged[i] = m
	}
	return staged, nil
}

func (s *Supervisor) stageRemote(ctx context.Context, url, dest string) error {
	resp, err := s.Client.R().SetContext(ctx).SetOutput(dest).Get(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("remote fetch failed: status %d", resp.StatusCode())
	}
	return nil
}

func stageLocal(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// rpcType names the two outbound orchestrator calls (spec §6).
type rpcType string

const (
	rpcStartTask rpcType = "start_task"
	rpcEndTask   rpcType = "end_task"
)

// StartTask announces task start to the orchestrator.
func (s *Supervisor) StartTask(ctx context.Context, taskID, recordID string) error {
	_, err := s.callRPC(ctx, rpcStartTask, taskID, recordID)
	return err
}

// EndTask announces task end and returns the orchestrator's list of live
// record names, used to prune stale backups.
func (s *Supervisor) EndTask(ctx context.Context, taskID, recordID string) ([]string, error) {
	resp, err := s.callRPC(ctx, rpcEndTask, taskID, recordID)
	if err != nil {
		return nil, err
	}
	var live []string
	if err := resp.UnmarshalBody(&live); err != nil {
		return nil, fmt.Errorf("lifecycle: decoding end_task live-record list: %w", err)
	}
	return live, nil
}

func (s *Supervisor) callRPC(ctx context.Context, rt rpcType, taskID, recordID string) (*resty.Response, error) {
	return s.Client.R().
		SetContext(ctx).
		SetQueryParam("rcp_type", string(rt)).
		SetBody(map[string]string{"task_id": taskID, "record_id": recordID}).
		Post(s.RPCRouter)
}

// Finish performs post-run cleanup: exports telemetry, prunes stale
// backups against the orchestrator's live-record list, and removes the
// staging directory (spec §4.7).
func (s *Supervisor) Finish(ctx context.Context, recordBackupIndex string, liveRecords []string) error {
	if err := s.Backup.Export(ctx, recordBackupIndex); err != nil {
		s.Logger.Error().Err(err).Str("record", recordBackupIndex).Msg("telemetry export failed")
		return err
	}
	if err := s.Backup.Prune(liveRecords); err != nil {
		s.Logger.Error().Err(err).Msg("backup prune failed")
		return err
	}
	if s.stagingDir != "" {
		if err := os.RemoveAll(s.stagingDir); err != nil {
			s.Logger.Warn().Err(err).Str("dir", s.stagingDir).Msg("failed to remove staging dir")
		}
	}
	return nil
}
