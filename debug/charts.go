package debug

import (
	"fmt"
	"io"
	"net/http"

	"github.com/Charles-Chao-Chen/FastSolver/types"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	etypes "github.com/go-echarts/go-echarts/v2/types"
)

// Charts 会话统计图表页面
type Charts struct {
	Record
}

func legend() opts.Legend {
	return opts.Legend{
		Type:   "scroll",
		Orient: "vertical",
		Right:  "10",
		Top:    "20",
		Bottom: "20",
	}
}

// Render 输出 HTML 页面：各阶段耗时与任务数、各层节点分布
func (c *Charts) Render(w io.Writer) error {
	subtitle := fmt.Sprintf("session %s, %s engine, %s kernel", c.Session, c.Engine, c.Kernel)

	phases := types.Phases()
	names := make([]string, len(phases))
	elapsed := make([]opts.BarData, len(phases))
	tasks := make([]opts.BarData, len(phases))
	for i, p := range phases {
		names[i] = p.String()
		elapsed[i] = opts.BarData{Value: float64(c.Stats.Elapsed[p.String()].Microseconds()) / 1000}
		tasks[i] = opts.BarData{Value: c.Stats.Tasks[p.String()]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: etypes.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "阶段耗时",
			Subtitle: subtitle,
		}),
		charts.WithLegendOpts(legend()),
		charts.WithYAxisOpts(opts.YAxis{
			Name:  "ms",
			Scale: opts.Bool(true),
		}),
	)
	bar.SetXAxis(names).
		AddSeries("累计耗时", elapsed).
		AddSeries("任务数", tasks)

	depth := make([]int, len(c.Levels))
	series := map[string][]opts.LineData{}
	keys := []string{"节点", "粒度叶子", "发射节点", "真实叶子"}
	for i, l := range c.Levels {
		depth[i] = l.Depth
		series[keys[0]] = append(series[keys[0]], opts.LineData{Value: l.Nodes})
		series[keys[1]] = append(series[keys[1]], opts.LineData{Value: l.GranularityLeaves})
		series[keys[2]] = append(series[keys[2]], opts.LineData{Value: l.LaunchNodes})
		series[keys[3]] = append(series[keys[3]], opts.LineData{Value: l.RealLeaves})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: etypes.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "树结构",
			Subtitle: "各深度节点数量",
		}),
		charts.WithLegendOpts(legend()),
		charts.WithYAxisOpts(opts.YAxis{
			Type: "log",
		}),
		charts.WithAnimation(true),
	)
	line.SetXAxis(depth)
	for _, k := range keys {
		line.AddSeries(k, series[k])
	}

	page := components.NewPage()
	page.AddCharts(bar, line)
	return page.Render(w)
}

// Handler 发布到网页
func (c *Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	if err := c.Render(w); err != nil {
		c.Error(err)
	}
}

var _ types.Debug = (*Charts)(nil)
