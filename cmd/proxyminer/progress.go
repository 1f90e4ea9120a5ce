package main

import (
	"io"
	"strconv"
	"sync/atomic"

	"github.com/cheggaaa/pb/v3"

	"openweb_proxy/proxypool/model"
)

const barTemplate = `{{string . "message"}}{{counters . }} {{bar . }} {{percent . }} {{speed . "%s proxies/sec" }} {{string . "alive"}}`

// progressObserver 把清洗阶段的事件渲染为终端进度条。
type progressObserver struct {
	out   io.Writer
	bar   *pb.ProgressBar
	alive atomic.Int64
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out}
}

func (p *progressObserver) Start(total int) {
	p.alive.Store(0)
	p.bar = pb.ProgressBarTemplate(barTemplate).New(total).SetWriter(p.out).SetMaxWidth(100)
	p.bar.Set("message", "Checking proxies\t")
	p.bar.Start()
}

func (p *progressObserver) Checked(_ model.Endpoint, err error) {
	if err == nil {
		p.bar.Set("alive", formatAlive(p.alive.Add(1)))
	}
	p.bar.Increment()
}

func (p *progressObserver) Finish(int) {
	p.bar.Finish()
}

func formatAlive(n int64) string {
	return "alive: " + strconv.FormatInt(n, 10)
}
