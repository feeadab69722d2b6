package messaging

import (
	"github.com/meridianhq/meridian/internal/domain"
)

// Endpoint addresses a point-to-point handler on the bus
type Endpoint string

// Topic addresses a fan-out stream on the bus
type Topic string

// Well-known engine endpoints. Commands flow to execute, venue reports and
// data flow to process, data responses flow to response.
const (
	EndpointDataProcess  Endpoint = "DataEngine.process"
	EndpointDataResponse Endpoint = "DataEngine.response"
	EndpointExecExecute  Endpoint = "ExecEngine.execute"
	EndpointExecProcess  Endpoint = "ExecEngine.process"

	// EndpointSnapshot triggers a store snapshot. The cache is confined to
	// the dispatch goroutine, so snapshots run there too.
	EndpointSnapshot Endpoint = "Runner.snapshot"
)

// TopicQuoteTicks is the stream of quote ticks for one instrument
func TopicQuoteTicks(id domain.InstrumentID) Topic {
	return Topic("data.quotes." + string(id))
}

// TopicTradeTicks is the stream of trade ticks for one instrument
func TopicTradeTicks(id domain.InstrumentID) Topic {
	return Topic("data.trades." + string(id))
}

// TopicBars is the stream of bars for one bar type
func TopicBars(barType domain.BarType) Topic {
	return Topic("data.bars." + barType.String())
}

// TopicInstrument is the stream of instrument definition updates
func TopicInstrument(id domain.InstrumentID) Topic {
	return Topic("data.instrument." + string(id))
}

// TopicOrderBookDeltas is the stream of book deltas for one instrument
func TopicOrderBookDeltas(id domain.InstrumentID) Topic {
	return Topic("data.book." + string(id))
}

// TopicInstrumentStatus is the stream of trading phase changes for one
// instrument
func TopicInstrumentStatus(id domain.InstrumentID) Topic {
	return Topic("data.status." + string(id))
}

// TopicInstrumentClose is the stream of venue close prices for one
// instrument
func TopicInstrumentClose(id domain.InstrumentID) Topic {
	return Topic("data.close." + string(id))
}

// TopicOrderEvents is the stream of order events for one strategy
func TopicOrderEvents(id domain.StrategyID) Topic {
	return Topic("events.order." + string(id))
}

// TopicPositionEvents is the stream of position events for one strategy
func TopicPositionEvents(id domain.StrategyID) Topic {
	return Topic("events.position." + string(id))
}

// TopicAccountEvents is the stream of state events for one account
func TopicAccountEvents(id domain.AccountID) Topic {
	return Topic("events.account." + string(id))
}

// TopicTimeEvents is the stream of timer events for one strategy. Clock
// callbacks fire on the clock's goroutine; routing them through the bus
// puts them back on the dispatch goroutine with everything else.
func TopicTimeEvents(id domain.StrategyID) Topic {
	return Topic("events.time." + string(id))
}
