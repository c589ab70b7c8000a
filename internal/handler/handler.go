// Package handler runs operator commands against the consultation engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/IBM/sarama"

	"consultation/internal/audit"
	"consultation/internal/kafka"
	"consultation/internal/models"
	"consultation/internal/processor"
	"consultation/internal/repository"
	"consultation/internal/server"
	"consultation/internal/service"
)

var ErrUnknownCommand = errors.New("unknown command, run 'help'")

type Deps struct {
	Engine     server.Engine
	Tasks      repository.ShippingTaskRepository
	Dispatcher processor.Dispatcher
	Processor  *processor.ShippingProcessor
	Server     *server.Server
	// AuditTail consumes the audit topic until ctx is done. Nil when Kafka is not configured.
	AuditTail func(ctx context.Context, handle kafka.MessageHandler) error
	Out       io.Writer
}

type Handler struct {
	d Deps
}

func New(d Deps) *Handler {
	return &Handler{d: d}
}

func (h *Handler) Execute(ctx context.Context, cmd string, args []string) error {
	commands := map[string]func(context.Context, []string) error{
		"help":       h.printHelp,
		"init":       h.handleInit,
		"save":       h.handleSave,
		"complete":   h.handleComplete,
		"show":       h.handleShow,
		"redispatch": h.handleRedispatch,
		"tasks":      h.handleTasks,
		"worker":     h.handleWorker,
		"serve":      h.handleServe,
		"audit-tail": h.handleAuditTail,
	}

	fn, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return fn(ctx, args)
}

func (h *Handler) printHelp(context.Context, []string) error {
	_, err := fmt.Fprintln(h.d.Out, `Commands:
  init <order-id> [new|reorder]
    - create or refresh the order's consultation session
  save <session-id> <slot> <answers-json> [complete]
    - store a step's answers; "complete" marks the step done
  complete <session-id> [shipping-override-json]
    - complete the consultation and dispatch shipping
  show <session-id>
    - print the session with its saved answers
  redispatch <order-id> [shipping-override-json]
    - call the carrier again for an order
  tasks <order-id>
    - list queued shipping retries
  worker
    - run the shipping retry processor until interrupted
  serve
    - run the HTTP API and the retry processor until interrupted
  audit-tail
    - print audit events from Kafka until interrupted`)
	return err
}

func (h *Handler) handleInit(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: init <order-id> [new|reorder]")
	}
	in := service.InitializeInput{OrderID: args[0]}
	if len(args) == 2 {
		in.Intent = args[1]
	}
	res, err := h.d.Engine.Initialize(ctx, in)
	if err != nil {
		return err
	}
	out := map[string]any{
		"session_id":  res.Session.ID,
		"created":     res.Created,
		"flow":        res.Flow,
		"flow_source": res.FlowSource,
		"steps":       res.Session.Steps,
		"current":     res.Session.Current,
		"warnings":    warningMessages(res.Warnings),
	}
	if cf := res.CarryForward; cf != nil {
		out["carried_forward"] = map[string]any{"slot": cf.Slot, "source": cf.Source, "answers": len(cf.Rows)}
	}
	return h.printJSON(out)
}

func (h *Handler) handleSave(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 || (len(args) == 4 && args[3] != "complete") {
		return errors.New("usage: save <session-id> <slot> <answers-json> [complete]")
	}
	var answers models.Answers
	if err := json.Unmarshal([]byte(args[2]), &answers); err != nil {
		return fmt.Errorf("parse answers: %w", err)
	}
	res, err := h.d.Engine.SaveStep(ctx, args[0], service.SaveStepInput{
		Slot:      args[1],
		Answers:   answers,
		Completed: len(args) == 4,
	})
	if err != nil {
		return err
	}
	return h.printJSON(map[string]any{
		"slot":     res.Response.Slot,
		"current":  res.Session.Current,
		"advanced": res.Advanced,
	})
}

func parseOverride(raw string) (*models.ShippingMeta, error) {
	var override models.ShippingMeta
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return nil, fmt.Errorf("parse shipping override: %w", err)
	}
	return &override, nil
}

func (h *Handler) handleComplete(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: complete <session-id> [shipping-override-json]")
	}
	var opts service.CompleteOptions
	if len(args) == 2 {
		override, err := parseOverride(args[1])
		if err != nil {
			return err
		}
		opts.ShippingOverride = override
	}
	res, err := h.d.Engine.Complete(ctx, args[0], opts)
	if err != nil {
		return err
	}
	out := map[string]any{
		"order_id":          res.Order.ID,
		"order_status":      res.Order.Status,
		"already_completed": res.AlreadyCompleted,
		"shipping":          res.Shipping.Status,
		"tracking_number":   res.Shipping.TrackingNumber,
		"warnings":          warningMessages(res.Warnings),
	}
	return h.printJSON(out)
}

func (h *Handler) handleShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <session-id>")
	}
	view, err := h.d.Engine.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	return h.printJSON(map[string]any{
		"session":      view.Session,
		"current_slot": view.Session.CurrentSlot(),
		"responses":    view.Responses,
	})
}

func (h *Handler) handleRedispatch(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: redispatch <order-id> [shipping-override-json]")
	}
	var override *models.ShippingMeta
	if len(args) == 2 {
		var err error
		if override, err = parseOverride(args[1]); err != nil {
			return err
		}
	}
	res, err := h.d.Dispatcher.Dispatch(ctx, args[0], override)
	if err != nil {
		return err
	}
	return h.printJSON(map[string]any{
		"carrier":            res.Carrier,
		"tracking_number":    res.TrackingNumber,
		"label_path":         res.LabelPath,
		"already_dispatched": res.AlreadyDispatched,
	})
}

func (h *Handler) handleTasks(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: tasks <order-id>")
	}
	tasks, err := h.d.Tasks.ListByOrder(ctx, args[0])
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*repository.ShippingTask{}
	}
	return h.printJSON(tasks)
}

func (h *Handler) handleWorker(ctx context.Context, _ []string) error {
	if h.d.Processor == nil {
		return errors.New("shipping processor is not configured")
	}
	h.d.Processor.ProcessPending(ctx)
	h.d.Processor.Start(ctx)
	return nil
}

func (h *Handler) handleServe(ctx context.Context, _ []string) error {
	if h.d.Server == nil {
		return errors.New("server is not configured")
	}
	var wg sync.WaitGroup
	if h.d.Processor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.d.Processor.Start(ctx)
		}()
	}
	err := h.d.Server.Run(ctx)
	wg.Wait()
	return err
}

func (h *Handler) handleAuditTail(ctx context.Context, _ []string) error {
	if h.d.AuditTail == nil {
		return errors.New("kafka is not configured (set KAFKA_BROKERS)")
	}
	return h.d.AuditTail(ctx, h.printAuditMessage)
}

func (h *Handler) printAuditMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	var rec audit.Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return fmt.Errorf("decode audit record at offset %d: %w", msg.Offset, err)
	}
	_, err := fmt.Fprintf(h.d.Out, "%s order=%s session=%s %s %s\n",
		rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), rec.OrderID, rec.SessionID, rec.Event, rec.Message)
	return err
}

func warningMessages(ws []service.Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

func (h *Handler) printJSON(v any) error {
	enc := json.NewEncoder(h.d.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
