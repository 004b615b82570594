package scheduler

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/render"
)

// Fingerprint hashes everything a frame is drawn from except the header clock. Two inputs with
// the same fingerprint draw the same transit list and weather sections.
func Fingerprint(in render.Input) uint64 {
	h := fingerprinter{d: xxhash.New()}

	h.flag(in.TransitPending)
	h.flag(in.TransitUnavailable)
	h.int(len(in.Arrivals))
	for _, a := range in.Arrivals {
		h.str(a.RouteID)
		h.str(a.Destination)
		h.int(a.MinutesUntilArrival)
		h.int(int(a.ScheduledTime.Unix() / 60))
	}

	h.flag(in.WeatherUnavailable)
	h.flag(in.Weather != nil)
	if w := in.Weather; w != nil {
		h.weather(*w)
	}
	return h.d.Sum64()
}

type fingerprinter struct {
	d   *xxhash.Digest
	buf [8]byte
}

func (h *fingerprinter) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.d.Write(h.buf[:])
}

func (h *fingerprinter) int(v int) { h.u64(uint64(v)) }

func (h *fingerprinter) float(v float64) { h.u64(math.Float64bits(v)) }

func (h *fingerprinter) flag(v bool) {
	if v {
		h.u64(1)
		return
	}
	h.u64(0)
}

// str is length-prefixed so adjacent strings cannot run together.
func (h *fingerprinter) str(s string) {
	h.int(len(s))
	h.d.WriteString(s)
}

func (h *fingerprinter) weather(w models.WeatherSnapshot) {
	h.float(w.CurrentTemp)
	h.int(int(w.CurrentCondition))
	h.str(w.Description)
	h.float(w.CurrentWindSpeed)
	h.float(w.CurrentPrecipitation)
	h.flag(w.IsDay)
	h.str(w.Units.Temperature)
	h.str(w.Units.WindSpeed)

	h.int(len(w.Hourly))
	for _, f := range w.Hourly {
		h.int(f.HourOffset)
		h.int(int(f.Time.Unix()))
		h.float(f.Temp)
		h.float(f.PrecipitationProbability)
		h.int(int(f.Condition))
		h.flag(f.IsDay)
	}
	h.int(len(w.Daily))
	for _, f := range w.Daily {
		h.int(f.DayOffset)
		h.int(int(f.Date.Unix()))
		h.float(f.High)
		h.float(f.Low)
		h.int(int(f.Condition))
	}
}
