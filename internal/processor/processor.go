// SPDX-License-Identifier: MIT

// Package processor implements the six media operations. Every operation is a
// stage over a local working file; single-op jobs run one stage, combined
// jobs chain them. Inputs are fetched from the object store into a per-job
// scratch directory and outputs are uploaded as new assets.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clipwork/clipwork/internal/cache"
	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/repo"
	"github.com/clipwork/clipwork/internal/store/object"
	"github.com/clipwork/clipwork/internal/xerr"
)

// Env bundles the dependencies shared by all stages.
type Env struct {
	Store  object.Store
	Files  *repo.Files
	Probes *cache.ProbeCache
	Prober *ffmpeg.Prober
	Runner *ffmpeg.Runner
	Encode ffmpeg.EncodeSettings
	// WorkDir is the parent of per-job scratch directories.
	WorkDir string
	Logger  zerolog.Logger
}

// StageContext is the working state handed to a stage: the scratch directory
// and the current chained file with its probe.
type StageContext struct {
	Env     *Env
	OwnerID int64
	Dir     string
	// InputPath is the local path of the primary input (for combined jobs,
	// the output of the previous stage).
	InputPath string
	// InputInfo is the probe of InputPath.
	InputInfo *model.MediaInfo
}

// Stager runs one operation over the context's input file and returns the
// local path of its output.
type Stager interface {
	Stage(ctx context.Context, sc *StageContext, cfg model.JobConfig, progress ffmpeg.ProgressFunc) (string, error)
}

// Outcome is what a finished job hands back to the dispatcher.
type Outcome struct {
	Result        json.RawMessage
	OutputFileIDs []int64
}

// Processor routes jobs to their stage implementations.
type Processor struct {
	env     *Env
	stagers map[model.JobType]Stager
}

// New wires the built-in stages over env.
func New(env *Env) *Processor {
	p := &Processor{env: env, stagers: make(map[model.JobType]Stager)}
	p.stagers[model.JobJoin] = &joinStage{env: env}
	p.stagers[model.JobAudioOverlay] = &audioStage{env: env}
	p.stagers[model.JobTextOverlay] = &textStage{env: env}
	p.stagers[model.JobSubtitles] = &subtitleStage{env: env}
	p.stagers[model.JobVideoOverlay] = &overlayStage{env: env}
	return p
}

// Process executes the job end to end: fetch, transform, upload. The scratch
// directory is removed on every path, so a failed job leaves nothing behind
// locally or in the store.
func (p *Processor) Process(ctx context.Context, job *model.Job, progress ffmpeg.ProgressFunc) (*Outcome, error) {
	cfg, err := model.ParseConfig(job.Type, job.Config)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(p.env.WorkDir, fmt.Sprintf("job-%d-", job.ID))
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "create scratch dir")
	}
	defer os.RemoveAll(dir)

	if job.Type == model.JobCombined {
		return p.processCombined(ctx, job, cfg.(*model.CombinedConfig), dir, progress)
	}

	stage, ok := p.stagers[job.Type]
	if !ok {
		return nil, xerr.Newf(xerr.Validation, "unknown job type %q", job.Type)
	}

	primary := cfg.InputIDs()[0]
	asset, localPath, info, err := p.env.fetchAsset(ctx, job.OwnerID, primary, dir)
	if err != nil {
		return nil, err
	}
	if err := requireVideo(info, asset.ID); err != nil {
		return nil, err
	}

	sc := &StageContext{Env: p.env, OwnerID: job.OwnerID, Dir: dir, InputPath: localPath, InputInfo: info}
	outPath, err := stage.Stage(ctx, sc, cfg, progress)
	if err != nil {
		return nil, err
	}

	out, err := p.env.uploadOutput(ctx, job.OwnerID, outPath, outputName(job, cfg))
	if err != nil {
		return nil, err
	}
	return buildOutcome(out)
}

func buildOutcome(out *model.Asset) (*Outcome, error) {
	doc := map[string]any{
		"output_path":    out.ObjectName,
		"output_file_id": out.ID,
		"size":           out.Size,
	}
	if out.Metadata != nil {
		doc["duration"] = out.Metadata.Duration
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "encode result")
	}
	return &Outcome{Result: raw, OutputFileIDs: []int64{out.ID}}, nil
}

// outputName picks the user-facing filename of the produced asset.
func outputName(job *model.Job, cfg model.JobConfig) string {
	if jc, ok := cfg.(*model.JoinConfig); ok && jc.OutputFilename != "" {
		return jc.OutputFilename
	}
	return fmt.Sprintf("%s_%d.mp4", job.Type, job.ID)
}

// fetchAsset downloads the owner's asset into dir and returns its probe,
// served from the probe cache when fresh.
func (e *Env) fetchAsset(ctx context.Context, ownerID, id int64, dir string) (*model.Asset, string, *model.MediaInfo, error) {
	asset, err := e.Files.GetOwned(ctx, id, ownerID)
	if err != nil {
		return nil, "", nil, err
	}

	local := filepath.Join(dir, uuid.NewString()+sanitizeExt(asset.Name))
	r, err := e.Store.Get(ctx, asset.ObjectName)
	if err != nil {
		return nil, "", nil, err
	}
	defer r.Close()

	f, err := os.Create(local) // #nosec G304 -- path is built from a fresh uuid
	if err != nil {
		return nil, "", nil, xerr.Wrap(xerr.Internal, err, "create local input")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return nil, "", nil, xerr.Wrap(xerr.Transient, err, "download input")
	}
	if err := f.Close(); err != nil {
		return nil, "", nil, xerr.Wrap(xerr.Internal, err, "flush local input")
	}

	info, err := e.probe(ctx, asset, local)
	if err != nil {
		return nil, "", nil, err
	}
	return asset, local, info, nil
}

// probe returns the asset's media info, memoized per object for 24 h.
func (e *Env) probe(ctx context.Context, asset *model.Asset, localPath string) (*model.MediaInfo, error) {
	if info, ok := e.Probes.Get(asset.ID, asset.ObjectName); ok {
		return info, nil
	}
	report, err := e.Prober.Probe(ctx, localPath)
	if err != nil {
		return nil, err
	}
	info := &report.MediaInfo
	e.Probes.Set(asset.ID, asset.ObjectName, info)
	if err := e.Files.UpdateMetadata(ctx, asset.ID, info); err != nil {
		e.Logger.Warn().Err(err).Int64("file_id", asset.ID).Msg("metadata update failed")
	}
	return info, nil
}

// uploadOutput stores the produced file as a new asset owned by ownerID.
func (e *Env) uploadOutput(ctx context.Context, ownerID int64, localPath, filename string) (*model.Asset, error) {
	f, err := os.Open(localPath) // #nosec G304 -- produced by us in the scratch dir
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "open output")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, xerr.Wrap(xerr.Internal, err, "stat output")
	}

	objectName := fmt.Sprintf("%s%d/%s_%s", object.AssetPrefixRoot, ownerID, uuid.NewString(), filename)
	if err := e.Store.Put(ctx, objectName, f, st.Size(), "video/mp4"); err != nil {
		return nil, err
	}

	asset := &model.Asset{
		OwnerID:    ownerID,
		Name:       filename,
		ObjectName: objectName,
		Size:       st.Size(),
		MediaType:  "video/mp4",
	}
	if report, err := e.Prober.Probe(ctx, localPath); err == nil {
		asset.Metadata = &report.MediaInfo
	}
	if err := e.Files.Create(ctx, asset); err != nil {
		// orphaned object; the temp sweep cannot see assets/, so undo here
		_ = e.Store.Delete(ctx, objectName)
		return nil, err
	}
	if asset.Metadata != nil {
		e.Probes.Set(asset.ID, asset.ObjectName, asset.Metadata)
	}
	return asset, nil
}

// scratchFile returns a fresh output path inside dir.
func scratchFile(dir, ext string) string {
	return filepath.Join(dir, uuid.NewString()+ext)
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ".bin"
	}
	return ext
}

func requireVideo(info *model.MediaInfo, id int64) error {
	if info == nil || info.VideoCodec == "" {
		return xerr.Newf(xerr.Validation, "file %d has no video stream", id)
	}
	return nil
}

func requireAudio(info *model.MediaInfo, id int64) error {
	if info == nil || info.AudioCodec == "" {
		return xerr.Newf(xerr.Validation, "file %d has no audio stream", id)
	}
	return nil
}
