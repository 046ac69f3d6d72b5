package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/event"
	"github.com/hbomb79/castid/internal/http/websocket"
	"github.com/hbomb79/castid/pkg/logger"
)

/*
 * Activity service is responsible for listening for relevant events,
 * and emitting update messages over the websocket.
 */

var log = logger.Get("Activity")

const (
	TitleMessage    = "ReceiveMessage"
	TitleCastResult = "ReceiveImdbData"
	TitleRunFailure = "ReceiveRunFailure"
)

type (
	broadcaster interface {
		Send(*websocket.SocketMessage)
	}

	Config struct {
		ReplaySize int `yaml:"replay_size" env:"ACTIVITY_REPLAY_SIZE" env-default:"16" validate:"gte=0"`
	}

	ActivityService struct {
		broadcaster broadcaster
		eventBus    event.EventHandler
		replay      *replayBuffer
	}

	runStateCommand struct {
		RunID uuid.UUID `mapstructure:"runId"`
	}
)

func New(broadcaster broadcaster, eventBus event.EventHandler, config Config) *ActivityService {
	return &ActivityService{
		broadcaster: broadcaster,
		eventBus:    eventBus,
		replay:      newReplayBuffer(config.ReplaySize),
	}
}

func (service *ActivityService) Run(ctx context.Context) error {
	messageChan := make(event.HandlerChannel, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.RunQueuedEvent, event.RunProgressEvent, event.RunResultEvent, event.RunFailedEvent)

	log.Emit(logger.NEW, "Activity service started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev.Event, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *ActivityService) handleEvent(ev event.HandlerEvent) error {
	switch payload := ev.Payload.(type) {
	case event.ProgressPayload:
		service.replay.recordMessage(payload.RunID, payload.Message)
		service.broadcast(TitleMessage, map[string]interface{}{"runId": payload.RunID, "message": payload.Message})
	case event.ResultPayload:
		service.replay.recordMembers(payload.RunID, payload.Members)
		service.broadcast(TitleCastResult, map[string]interface{}{"runId": payload.RunID, "members": payload.Members})
	case event.FailurePayload:
		service.replay.recordFailure(payload.RunID, payload.Kind, payload.Error)
		service.broadcast(TitleRunFailure, map[string]interface{}{"runId": payload.RunID, "kind": payload.Kind, "error": payload.Error})
	default:
		return errors.New("unknown event payload")
	}

	return nil
}

func (service *ActivityService) broadcast(title string, body map[string]interface{}) {
	service.broadcaster.Send(&websocket.SocketMessage{Title: title, Body: body, Type: websocket.Update})
}

// ConnectionPayload returns the state of the recent runs, which is
// provided to newly connected clients so they can catch up on the events
// they missed.
func (service *ActivityService) ConnectionPayload() map[string]interface{} {
	return map[string]interface{}{"runs": service.replay.snapshot()}
}

// HandleRunStateCommand is a socket command handler which replies to the
// client with the latest state of the run requested.
func (service *ActivityService) HandleRunStateCommand(hub *websocket.SocketHub, command *websocket.SocketMessage) error {
	var args runStateCommand
	if err := command.DecodeArguments(&args); err != nil {
		return err
	}

	state, ok := service.replay.get(args.RunID)
	if !ok {
		return fmt.Errorf("no recent activity for run %s", args.RunID)
	}

	hub.Send(command.FormReply("COMMAND_SUCCESS", map[string]interface{}{"run": state}, websocket.Response))
	return nil
}
