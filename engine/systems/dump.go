package systems

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/metadata"
)

/** @brief The configuration for surface dumps. */
type DumpSystemConfig struct {
	Enabled bool
	/** @brief Directory the bitmaps are written to. */
	Dir string
}

// DumpSystem writes surface levels as bitmaps for debugging.
type DumpSystem struct {
	Config   DumpSystemConfig
	table    *ResourceTable
	surfaces *SurfaceSystem
	jobs     *JobSystem
	events   *core.EventBus
}

type dumpJob struct {
	sid   uint32
	path  string
	image *image.NRGBA
}

func NewDumpSystem(config DumpSystemConfig, table *ResourceTable, surfaces *SurfaceSystem, jobs *JobSystem, events *core.EventBus) *DumpSystem {
	return &DumpSystem{
		Config:   config,
		table:    table,
		surfaces: surfaces,
		jobs:     jobs,
		events:   events,
	}
}

/**
 * @brief Captures one level of a surface and writes it as a bitmap in the
 * background. done, when set, runs after the file was written or failed.
 * @return The path the bitmap goes to, empty when dumps are disabled.
 */
func (ds *DumpSystem) DumpSurface(img metadata.SurfaceImageID, done func(path string, err error)) (string, error) {
	if !ds.Config.Enabled {
		core.LogDebug("surface %d: dumps are disabled", img.SID)
		return "", nil
	}
	s, err := ds.table.Surface(img.SID)
	if err != nil {
		return "", err
	}
	level, err := s.Level(img.Face, img.Mipmap)
	if err != nil {
		return "", err
	}
	acc, err := ds.surfaces.accessLevel(s, img.Face, img.Mipmap, false)
	if err != nil {
		return "", err
	}
	picture, convErr := decodeLevel(s.Desc.Format, level, acc.data, acc.pitch)
	if err := acc.release(); err != nil {
		return "", err
	}
	if convErr != nil {
		return "", fmt.Errorf("surface %d: %w", img.SID, convErr)
	}

	path := filepath.Join(ds.Config.Dir, fmt.Sprintf("surface-%d-%d-%d.bmp", img.SID, img.Face, img.Mipmap))
	err = ds.jobs.Submit(metadata.JobTask{
		InputParams: &dumpJob{sid: img.SID, path: path, image: picture},
		OnStart:     writeDump,
		OnComplete: func(result interface{}) {
			ctx := core.EventContext{}
			ctx.Data.U32[0] = img.SID
			ctx.Data.C[0] = path
			ds.events.Fire(core.EVENT_CODE_SURFACE_DUMPED, ds, ctx)
			if done != nil {
				done(path, nil)
			}
		},
		OnFailure: func(result interface{}) {
			if done != nil {
				err, _ := result.(error)
				done(path, err)
			}
		},
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func writeDump(params interface{}, out chan<- interface{}) error {
	job, ok := params.(*dumpJob)
	if !ok {
		return fmt.Errorf("surface dump job with %T params: %w", params, core.ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(job.path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(job.path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, job.image); err != nil {
		f.Close()
		return fmt.Errorf("surface %d: encode %s: %w", job.sid, job.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	out <- job.path
	return nil
}

// decodeLevel converts the first slice of a level to an image.
func decodeLevel(format metadata.SurfaceFormat, level *metadata.MipLevel, data []byte, pitch uint32) (*image.NRGBA, error) {
	w, h := int(level.Size.Width), int(level.Size.Height)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := data[uint32(y)*pitch:]
		for x := 0; x < w; x++ {
			var c color.NRGBA
			switch format {
			case metadata.FormatA8R8G8B8, metadata.FormatX8R8G8B8:
				p := row[x*4:]
				c = color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
				if format == metadata.FormatX8R8G8B8 {
					c.A = 0xff
				}
			case metadata.FormatR5G6B5:
				v := binary.LittleEndian.Uint16(row[x*2:])
				c = color.NRGBA{R: expand(v>>11, 5), G: expand(v>>5&0x3f, 6), B: expand(v&0x1f, 5), A: 0xff}
			case metadata.FormatA1R5G5B5, metadata.FormatX1R5G5B5:
				v := binary.LittleEndian.Uint16(row[x*2:])
				c = color.NRGBA{R: expand(v>>10&0x1f, 5), G: expand(v>>5&0x1f, 5), B: expand(v&0x1f, 5), A: 0xff}
				if format == metadata.FormatA1R5G5B5 && v&0x8000 == 0 {
					c.A = 0
				}
			case metadata.FormatLuminance8:
				c = color.NRGBA{R: row[x], G: row[x], B: row[x], A: 0xff}
			default:
				return nil, fmt.Errorf("dump of %s surfaces: %w", format, core.ErrNotImplemented)
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}

// expand widens a colour channel of bits to eight bits.
func expand(v uint16, bits uint) uint8 {
	maxValue := uint16(1)<<bits - 1
	return uint8(uint32(v) * 255 / uint32(maxValue))
}
