package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"joyvol/internal/binding"
	"joyvol/internal/ipc"
)

// Command types accepted on the control socket.
const (
	cmdList    = "list"
	cmdAdd     = "add"
	cmdReplace = "replace"
	cmdRemove  = "remove"
	cmdSave    = "save"
	cmdLoad    = "load"
	cmdStart   = "start"
	cmdStop    = "stop"
	cmdStatus  = "status"
	cmdDevices = "devices"
	cmdTargets = "targets"
)

// replaceRequest is the data of a replace command.
type replaceRequest struct {
	Index   int             `json:"index"`
	Binding binding.Binding `json:"binding"`
}

// indexRequest is the data of a remove command.
type indexRequest struct {
	Index int `json:"index"`
}

type startReply struct {
	RunID string `json:"run_id"`
}

// decodeData strictly decodes a request payload into v.
func decodeData(req ipc.Request, v any) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing data", req.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: decode data: %w", req.Type, err)
	}
	return nil
}

// Handle implements ipc.Handler.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Type {
	case cmdList:
		return ipc.OK(c.List())

	case cmdAdd:
		var b binding.Binding
		if err := decodeData(req, &b); err != nil {
			return ipc.Fail(err)
		}
		if err := c.Add(b); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(c.List())

	case cmdReplace:
		var r replaceRequest
		if err := decodeData(req, &r); err != nil {
			return ipc.Fail(err)
		}
		if err := c.Replace(r.Index, r.Binding); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(c.List())

	case cmdRemove:
		var r indexRequest
		if err := decodeData(req, &r); err != nil {
			return ipc.Fail(err)
		}
		if err := c.Remove(r.Index); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(c.List())

	case cmdSave:
		rep, err := c.Save()
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(rep)

	case cmdLoad:
		rep, err := c.Load()
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(rep)

	case cmdStart:
		id, err := c.Start()
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(startReply{RunID: id})

	case cmdStop:
		if err := c.Stop(); err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(nil)

	case cmdStatus:
		return ipc.OK(c.Status())

	case cmdDevices:
		list, err := c.Devices(ctx)
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(list)

	case cmdTargets:
		list, err := c.Targets(ctx)
		if err != nil {
			return ipc.Fail(err)
		}
		return ipc.OK(list)
	}
	return ipc.Fail(errors.New("unknown command type: " + req.Type))
}
