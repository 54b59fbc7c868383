package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arloliu/go-scpi/logger"
	"github.com/arloliu/go-scpi/sim"
)

// faultRequest is the body of POST /faults.
type faultRequest struct {
	Kind    string `json:"kind"`
	Match   string `json:"match"`
	Count   int    `json:"count"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sagRequest struct {
	Volts float64 `json:"volts"`
}

type controlAPI struct {
	inst *sim.Instrument
}

func ginLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()

		kv := []any{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(start),
			"method", c.Request.Method,
			"path", path,
		}
		if len(c.Errors) > 0 {
			l.Error(c.Errors.ByType(gin.ErrorTypePrivate).String(), kv...)
			return
		}
		l.Debug("control request", kv...)
	}
}

// setupRoutes exposes the simulator state and fault injection over HTTP, so an operator or a
// test harness can disturb a running hemtctl session.
func setupRoutes(inst *sim.Instrument, l logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	api := &controlAPI{inst: inst}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(l))

	router.GET("/channels", api.getChannels)
	router.GET("/channels/:ch", api.getChannel)
	router.PUT("/channels/:ch/sag", api.setSag)
	router.POST("/channels/:ch/trip", api.trip)
	router.GET("/records", api.getRecords)
	router.DELETE("/records", api.resetRecords)
	router.GET("/faults", api.getFaults)
	router.POST("/faults", api.injectFault)
	router.DELETE("/faults", api.clearFaults)

	return router
}

func badRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, err.Error())
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

func channelParam(c *gin.Context) (int, bool) {
	ch, err := strconv.Atoi(c.Param("ch"))
	if err != nil || ch < 1 || ch > sim.NumChannels {
		badRequest(c, fmt.Errorf("channel must be between 1 and %d, got %q", sim.NumChannels, c.Param("ch")))
		return 0, false
	}

	return ch, true
}

func (a *controlAPI) getChannels(c *gin.Context) {
	states := make([]sim.ChannelState, 0, sim.NumChannels)
	for ch := 1; ch <= sim.NumChannels; ch++ {
		states = append(states, a.inst.Channel(ch))
	}
	c.IndentedJSON(http.StatusOK, states)
}

func (a *controlAPI) getChannel(c *gin.Context) {
	ch, ok := channelParam(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, a.inst.Channel(ch))
}

func (a *controlAPI) setSag(c *gin.Context) {
	ch, ok := channelParam(c)
	if !ok {
		return
	}

	var req sagRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Volts < 0 {
		badRequest(c, errors.New("sag must not be negative"))
		return
	}

	a.inst.SetSag(ch, req.Volts)
	c.IndentedJSON(http.StatusOK, a.inst.Channel(ch))
}

func (a *controlAPI) trip(c *gin.Context) {
	ch, ok := channelParam(c)
	if !ok {
		return
	}

	a.inst.Trip(ch)
	c.IndentedJSON(http.StatusOK, a.inst.Channel(ch))
}

func (a *controlAPI) getRecords(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, a.inst.Records())
}

func (a *controlAPI) resetRecords(c *gin.Context) {
	a.inst.ResetRecords()
	c.Status(http.StatusNoContent)
}

func (a *controlAPI) getFaults(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"pending": a.inst.PendingFaults()})
}

func (a *controlAPI) injectFault(c *gin.Context) {
	var req faultRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	kind, err := sim.ParseFaultKind(req.Kind)
	if err != nil {
		badRequest(c, err)
		return
	}
	if req.Count < 0 {
		badRequest(c, fmt.Errorf("count must not be negative, got %d", req.Count))
		return
	}

	a.inst.InjectFault(sim.Fault{
		Kind:    kind,
		Match:   req.Match,
		Count:   req.Count,
		Code:    req.Code,
		Message: req.Message,
	})
	c.IndentedJSON(http.StatusCreated, gin.H{"pending": a.inst.PendingFaults()})
}

func (a *controlAPI) clearFaults(c *gin.Context) {
	a.inst.ClearFaults()
	c.Status(http.StatusNoContent)
}
