package debug

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Charles-Chao-Chen/FastSolver/types"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot 阶段耗时柱状图
type Plot struct {
	Record
	Format string // png | svg | pdf，默认 png
}

func (p *Plot) build() (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("FastSolver %s (%d rows)", p.Session, p.Params.Rows)
	pl.Y.Label.Text = "ms"

	phases := types.Phases()
	names := make([]string, len(phases))
	values := make(plotter.Values, len(phases))
	for i, ph := range phases {
		names[i] = ph.String()
		values[i] = float64(p.Stats.Elapsed[ph.String()].Microseconds()) / 1000
	}
	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return nil, err
	}
	bars.Color = plotutil.Color(0)
	bars.LineStyle.Width = vg.Length(0)
	pl.Add(bars)
	pl.NominalX(names...)
	return pl, nil
}

// Render 按 Format 输出图像
func (p *Plot) Render(w io.Writer) error {
	pl, err := p.build()
	if err != nil {
		return err
	}
	format := p.Format
	if format == "" {
		format = "png"
	}
	wt, err := pl.WriterTo(6*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save 按扩展名保存图像
func (p *Plot) Save(path string) error {
	pl, err := p.build()
	if err != nil {
		return err
	}
	if strings.TrimPrefix(filepath.Ext(path), ".") == "" {
		path += ".png"
	}
	return pl.Save(6*vg.Inch, 4*vg.Inch, path)
}

var _ types.Debug = (*Plot)(nil)
