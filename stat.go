package decoder

// DecoderStat aggregates the diagnostics of the current or last
// utterance.
type DecoderStat struct {
	FramesDecoded   int32
	TokensAlloc     uint32
	ArcsAlloc       uint32
	ArcsOutput      uint32
	HistogramPrunes int64
	NaNSkipped      int64
	NeSaturated     int64
}

// Stat
func (d *Decoder) Stat() (stat DecoderStat) {
	stat.FramesDecoded = d.frame
	stat.TokensAlloc = d.arena.size()
	stat.ArcsAlloc = d.latArcs.Size()
	stat.ArcsOutput = d.lat.output.Size()
	stat.HistogramPrunes = d.exp.histPrunes.Load()
	stat.NaNSkipped = d.exp.nanSkipped.Load()
	stat.NeSaturated = d.exp.neSaturated.Load()
	return
}

// SurvivalRate returns the share of raw arcs that made it through
// backward pruning, in percent.
func (s DecoderStat) SurvivalRate() float64 {
	if s.ArcsAlloc == 0 {
		return 0
	}
	return float64(s.ArcsOutput) / float64(s.ArcsAlloc) * 100
}
