package coordinator

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/iolloyd/tcpdoctor/internal/downsample"
	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func runAsync(cmd tea.Cmd) <-chan tea.Msg {
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	return ch
}

func rtts(points []models.TimeSeriesPoint) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		out = append(out, p.RTT)
	}
	return out
}

var _ = Describe("Coordinator", func() {
	var (
		source   *gatedSource
		recorder *fakeRecorder
		mock     *clock.Mock
		registry *prometheus.Registry
		coord    *Coordinator
		start    time.Time
	)

	BeforeEach(func() {
		source = newGatedSource()
		recorder = &fakeRecorder{sessions: map[int64][]models.TimelineEntry{}}
		mock = clock.NewMock()
		start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		mock.Set(start)
		registry = prometheus.NewRegistry()
		coord = New(Options{
			Source:     source,
			Recorder:   recorder,
			Interval:   time.Second,
			Clock:      mock,
			Registerer: registry,
		})
	})

	AfterEach(func() {
		coord.Stop()
	})

	// fetchOnce drives one complete live fetch and returns the follow-up command
	fetchOnce := func(cmd tea.Cmd, conns ...models.ConnectionRecord) tea.Cmd {
		Expect(cmd).NotTo(BeNil())
		done := runAsync(cmd)
		source.push(conns...)
		var msg tea.Msg
		Eventually(done).Should(Receive(&msg))
		return coord.Update(msg)
	}

	When("polling in live mode", func() {
		It("applies fetched connections and schedules the next tick", func() {
			next := fetchOnce(coord.Init(), conn(5000, 10), conn(5001, 20))

			Expect(next).NotTo(BeNil())
			Expect(coord.ActiveConnections()).To(HaveLen(2))
			Expect(coord.ActiveConnections()[0].ObservedAt).To(Equal(start))
			Expect(coord.LastUpdate()).To(Equal(start))
			Expect(coord.Mode()).To(Equal(Live()))
		})

		It("fires a tick for the current generation after the interval", func() {
			next := fetchOnce(coord.Init(), conn(5000, 10))
			ticks := runAsync(next)

			var msg tea.Msg
			Eventually(func() bool {
				mock.Add(time.Second)
				select {
				case msg = <-ticks:
					return true
				default:
					return false
				}
			}).Should(BeTrue())

			Expect(msg).To(Equal(tickMsg{generation: coord.generation}))
			Expect(coord.Update(msg)).NotTo(BeNil())
			Expect(source.Calls()).To(BeNumerically(">=", 1))
		})

		It("passes the filter criteria to the source", func() {
			criteria := filter.Criteria{Family: filter.FamilyIPv6}
			coord.SetFilterCriteria(criteria)
			fetchOnce(coord.Init())

			source.mu.Lock()
			defer source.mu.Unlock()
			Expect(source.criteria).To(Equal(criteria))
		})

		It("keeps the previous data when a fetch fails", func() {
			next := fetchOnce(coord.Init(), conn(5000, 10))

			done := runAsync(coord.Update(tickMsg{generation: coord.generation}))
			source.fail(errors.New("netlink: permission denied"))
			var msg tea.Msg
			Eventually(done).Should(Receive(&msg))
			retry := coord.Update(msg)

			Expect(next).NotTo(BeNil())
			Expect(retry).NotTo(BeNil(), "the next tick must still be scheduled")
			Expect(coord.ActiveConnections()).To(HaveLen(1))
			Expect(coord.LastError()).To(MatchError("netlink: permission denied"))
			Expect(testutil.ToFloat64(coord.metrics.fetchFailures)).To(Equal(1.0))

			fetchOnce(coord.Update(tickMsg{generation: coord.generation}), conn(5000, 11))
			Expect(coord.LastError()).NotTo(HaveOccurred())
		})

		It("clamps the poll interval", func() {
			coord.SetPollInterval(10 * time.Millisecond)
			Expect(coord.PollInterval()).To(Equal(MinPollInterval))
			coord.SetPollInterval(0)
			Expect(coord.PollInterval()).To(Equal(DefaultPollInterval))
			coord.SetPollInterval(2 * time.Second)
			Expect(coord.PollInterval()).To(Equal(2 * time.Second))
		})
	})

	When("a live fetch completes after entering historical mode", func() {
		It("never overwrites the historical view", func() {
			inFlight := runAsync(coord.Init())

			entries := []models.TimelineEntry{entryAt(start, conn(7000, 42))}
			coord.EnterHistorical(9, entries)

			source.push(conn(5000, 1), conn(5001, 2), conn(5002, 3))
			var msg tea.Msg
			Eventually(inFlight).Should(Receive(&msg))

			Expect(coord.Update(msg)).To(BeNil(), "a stale result must not reschedule polling")
			Expect(coord.ActiveConnections()).To(HaveLen(1))
			Expect(coord.ActiveConnections()[0].LocalPort).To(Equal(uint16(7000)))
			Expect(coord.LastUpdate()).To(BeZero())
			Expect(testutil.ToFloat64(coord.metrics.staleDropped.WithLabelValues("fetch"))).To(Equal(1.0))
		})

		It("cancels the fetch context", func() {
			coord = New(Options{Source: contextSource{}, Clock: mock})
			inFlight := runAsync(coord.Init())

			coord.EnterHistorical(1, nil)

			var msg tea.Msg
			Eventually(inFlight).Should(Receive(&msg))
			Expect(coord.Update(msg)).To(BeNil())
			Expect(coord.LastError()).NotTo(HaveOccurred(), "stale results are not errors")
		})
	})

	When("in historical mode", func() {
		var entries []models.TimelineEntry

		BeforeEach(func() {
			t1, t2, t3 := start, start.Add(time.Second), start.Add(2*time.Second)
			entries = []models.TimelineEntry{
				entryAt(t1, conn(5000, 10)),
				entryAt(t1, conn(5001, 99)),
				entryAt(t2, conn(5000, 20)),
				entryAt(t3, conn(5000, 15)),
			}
		})

		It("suspends the poll timer", func() {
			next := fetchOnce(coord.Init(), conn(5000, 10))
			timer := runAsync(next)

			coord.EnterHistorical(3, entries)

			var msg tea.Msg
			Eventually(timer).Should(Receive(&msg))
			Expect(msg).To(BeNil(), "the pending timer is cancelled, not left to fire")
		})

		It("ignores ticks and issues no fetches", func() {
			coord.EnterHistorical(3, entries)

			Expect(coord.Update(tickMsg{generation: coord.generation})).To(BeNil())
			Expect(coord.Update(tickMsg{generation: coord.generation - 1})).To(BeNil())
			Expect(coord.fetch()).To(BeNil())
			Expect(source.Calls()).To(BeZero())
		})

		It("shows every entry stamped with its capture time", func() {
			coord.EnterHistorical(3, entries)

			Expect(coord.Mode()).To(Equal(Historical(3)))
			active := coord.ActiveConnections()
			Expect(active).To(HaveLen(4))
			Expect(active[2].ObservedAt).To(Equal(start.Add(time.Second)))
		})

		It("deduplicates the picker keeping the most recent entry", func() {
			coord.EnterHistorical(3, entries)

			picker := coord.PickerConnections()
			Expect(picker).To(HaveLen(2))
			Expect(picker[0].LocalPort).To(Equal(uint16(5000)))
			Expect(picker[0].RTT()).To(Equal(15.0))
			Expect(picker[1].LocalPort).To(Equal(uint16(5001)))
		})

		It("returns the history of a connection in order", func() {
			coord.EnterHistorical(3, entries)

			series := coord.HistoryFor(conn(5000, 0).Identity)
			Expect(rtts(series)).To(Equal([]float64{10, 20, 15}))
			Expect(downsample.Reduce(series, 100)).To(Equal(series))
			Expect(coord.HistoryFor(conn(6000, 0).Identity)).To(BeEmpty())
		})

		It("applies the filter to the historical list", func() {
			coord.EnterHistorical(3, entries)
			coord.SetFilterCriteria(filter.Criteria{Metrics: []filter.MetricCondition{{Field: filter.FieldRTT, Expr: "> 50"}}})

			Expect(coord.ActiveConnections()).To(HaveLen(1))
			Expect(coord.PickerConnections()).To(HaveLen(1))
		})

		It("shows nothing from before historical mode until a fresh fetch lands", func() {
			fetchOnce(coord.Init(), conn(5000, 10))
			Expect(coord.SelectConnection(conn(5000, 0).Identity)).To(BeTrue())
			coord.EnterHistorical(3, entries)
			mock.Add(10 * time.Minute)

			resume := coord.ExitToLive()
			Expect(coord.ActiveConnections()).To(BeEmpty())
			Expect(coord.PickerConnections()).To(BeEmpty())
			Expect(coord.SelectedConnection()).To(BeNil())
			Expect(coord.LastUpdate()).To(BeZero())

			fetchOnce(resume, conn(5000, 30))
			Expect(coord.ActiveConnections()).To(HaveLen(1))
			Expect(coord.ActiveConnections()[0].ObservedAt).To(Equal(start.Add(10 * time.Minute)))
			Expect(coord.LastUpdate()).To(Equal(start.Add(10 * time.Minute)))
		})

		It("resumes polling when returning to live", func() {
			fetchOnce(coord.Init(), conn(5000, 10))
			coord.EnterHistorical(3, entries)

			resume := coord.ExitToLive()
			Expect(resume).NotTo(BeNil())
			Expect(coord.Mode()).To(Equal(Live()))
			Expect(coord.Timeline()).To(BeNil())

			next := fetchOnce(resume, conn(5000, 30), conn(5002, 5))
			Expect(next).NotTo(BeNil())
			Expect(coord.ActiveConnections()).To(HaveLen(2))
			Expect(coord.ExitToLive()).To(BeNil(), "already live")
		})
	})

	When("loading a session asynchronously", func() {
		BeforeEach(func() {
			recorder.sessions[1] = []models.TimelineEntry{entryAt(start, conn(5000, 10))}
			recorder.sessions[2] = []models.TimelineEntry{entryAt(start, conn(6000, 10)), entryAt(start, conn(6001, 10))}
		})

		It("displays the loaded timeline", func() {
			cmd := coord.LoadSession(2)
			Expect(coord.Loading()).To(BeTrue())
			Expect(coord.Mode()).To(Equal(Historical(2)))

			coord.Update(cmd())
			Expect(coord.Loading()).To(BeFalse())
			Expect(coord.ActiveConnections()).To(HaveLen(2))
		})

		It("drops the earlier load when another session is requested", func() {
			recorder.gate = make(chan struct{})
			first := runAsync(coord.LoadSession(1))
			second := runAsync(coord.LoadSession(2))
			close(recorder.gate)

			var m1, m2 tea.Msg
			Eventually(first).Should(Receive(&m1))
			Eventually(second).Should(Receive(&m2))
			coord.Update(m2)
			coord.Update(m1)

			Expect(coord.Mode()).To(Equal(Historical(2)))
			Expect(coord.ActiveConnections()).To(HaveLen(2))
			Expect(testutil.ToFloat64(coord.metrics.staleDropped.WithLabelValues("session"))).To(Equal(1.0))
		})

		It("drops the load when returning to live first", func() {
			fetchOnce(coord.Init(), conn(5000, 10), conn(5001, 10), conn(5002, 10))
			load := coord.LoadSession(1)
			resume := coord.ExitToLive()

			coord.Update(load())
			Expect(coord.Mode()).To(Equal(Live()))
			Expect(coord.ActiveConnections()).To(BeEmpty())

			fetchOnce(resume, conn(5000, 10))
			Expect(coord.ActiveConnections()).To(HaveLen(1))
		})

		It("reports a failed load", func() {
			cmd := coord.LoadSession(404)
			coord.Update(cmd())

			Expect(coord.Loading()).To(BeFalse())
			Expect(coord.LastError()).To(HaveOccurred())
			Expect(coord.ActiveConnections()).To(BeEmpty())
		})
	})

	When("recording", func() {
		It("appends the displayed snapshot on the same tick", func() {
			recorder.recording = true
			fetchOnce(coord.Init(), conn(5000, 10), conn(5001, 20))

			Expect(recorder.appended).To(Equal([]time.Time{start}))
			Expect(recorder.entries).To(HaveLen(2))
			Expect(testutil.ToFloat64(coord.metrics.snapshots)).To(Equal(1.0))

			mock.Add(time.Second)
			fetchOnce(coord.Update(tickMsg{generation: coord.generation}), conn(5000, 12))
			Expect(rtts(coord.HistoryFor(conn(5000, 0).Identity))).To(Equal([]float64{10, 12}))
		})

		It("does not append while stopped", func() {
			fetchOnce(coord.Init(), conn(5000, 10))
			Expect(recorder.appended).To(BeEmpty())
			Expect(coord.HistoryFor(conn(5000, 0).Identity)).To(BeEmpty())
		})
	})

	When("a connection is selected", func() {
		It("follows the newest counters and clears when it disappears", func() {
			fetchOnce(coord.Init(), conn(5000, 10), conn(5001, 20))
			Expect(coord.SelectConnection(conn(5000, 0).Identity)).To(BeTrue())
			Expect(coord.SelectedConnection().RTT()).To(Equal(10.0))

			fetchOnce(coord.Update(tickMsg{generation: coord.generation}), conn(5001, 21), conn(5000, 55))
			Expect(coord.SelectedConnection()).NotTo(BeNil())
			Expect(coord.SelectedConnection().RTT()).To(Equal(55.0))

			fetchOnce(coord.Update(tickMsg{generation: coord.generation}), conn(5001, 22))
			Expect(coord.SelectedConnection()).To(BeNil())
		})

		It("re-resolves against the historical list", func() {
			fetchOnce(coord.Init(), conn(5000, 10))
			Expect(coord.SelectConnection(conn(5000, 0).Identity)).To(BeTrue())

			coord.EnterHistorical(1, []models.TimelineEntry{
				entryAt(start, conn(5000, 70)),
				entryAt(start.Add(time.Second), conn(5000, 80)),
			})
			Expect(coord.SelectedConnection().RTT()).To(Equal(80.0))

			coord.EnterHistorical(2, []models.TimelineEntry{entryAt(start, conn(9000, 1))})
			Expect(coord.SelectedConnection()).To(BeNil())
		})
	})
})
