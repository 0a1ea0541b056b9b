package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/calendai/calendai/internal/availability"
	"github.com/calendai/calendai/internal/calendar"
)

func functionTool(name, description string, params jsonschema.Definition) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// calendarLabel names a calendar for user-facing messages.
func calendarLabel(name string) string {
	if name == "" {
		return "principal"
	}
	return name
}

func (r *Registry) listCalendarsTool() Tool {
	return Tool{
		Definition: functionTool("list_calendars",
			"Lista todas as agendas (calendários) disponíveis para o usuário, com seus nomes e IDs.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			refs, err := r.client.ListCalendars(ctx)
			if err != nil {
				return calendarFault(err)
			}
			if refs == nil {
				refs = []calendar.CalendarRef{}
			}
			return map[string]any{"success": true, "count": len(refs), "calendars": refs}
		},
	}
}

func (r *Registry) searchEventsTool() Tool {
	type args struct {
		Query        string `json:"query"`
		CalendarName string `json:"calendar_name"`
		DateFilter   string `json:"date_filter"`
	}
	return Tool{
		Definition: functionTool("search_events",
			"Busca eventos em uma agenda específica. Use esta ferramenta para obter os IDs de eventos antes de modificá-los ou deletá-los.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"query": {
					Type:        jsonschema.String,
					Description: "O nome do evento a ser buscado (ex: 'Reunião de marketing').",
				},
				"calendar_name": {
					Type:        jsonschema.String,
					Description: "O nome da agenda onde o evento está (ex: 'Trabalho', 'Pessoal'). Se não informado, busca na agenda principal.",
				},
				"date_filter": {
					Type:        jsonschema.String,
					Description: "Filtra a busca por uma data específica no formato YYYY-MM-DD.",
				},
			}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			result, err := r.client.SearchEvents(ctx, calendar.SearchQuery{
				Query:        optString(a.Query),
				CalendarName: optString(a.CalendarName),
				DateFilter:   optString(a.DateFilter),
			})
			if err != nil {
				return calendarFault(err)
			}
			if !result.Found {
				return map[string]any{
					"found":   false,
					"message": fmt.Sprintf("Nenhum evento encontrado com os critérios fornecidos na agenda '%s'", calendarLabel(a.CalendarName)),
				}
			}
			return map[string]any{"found": true, "count": len(result.Events), "events": result.Events}
		},
	}
}

func (r *Registry) modifyCalendarEventTool() Tool {
	type args struct {
		EventID          string    `json:"event_id"`
		CalendarID       string    `json:"calendar_id"`
		Action           string    `json:"action"`
		NewTitle         string    `json:"new_title"`
		NewDate          string    `json:"new_date"`
		NewStartTime     string    `json:"new_start_time"`
		NewDurationHours flexFloat `json:"new_duration_hours"`
	}
	return Tool{
		Definition: functionTool("modify_calendar_event",
			"Modifica ou deleta um evento. Requer o event_id e o calendar_id obtidos através da ferramenta 'search_events'.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"event_id": {
					Type:        jsonschema.String,
					Description: "ID do evento obtido de 'search_events'.",
				},
				"calendar_id": {
					Type:        jsonschema.String,
					Description: "ID da agenda obtido de 'search_events'.",
				},
				"action": {
					Type:        jsonschema.String,
					Enum:        []string{"update", "delete"},
					Description: "A ação a ser realizada.",
				},
				"new_title": {
					Type:        jsonschema.String,
					Description: "O novo título para o evento (apenas para 'update').",
				},
				"new_date": {
					Type:        jsonschema.String,
					Description: "A nova data no formato YYYY-MM-DD (apenas para 'update').",
				},
				"new_start_time": {
					Type:        jsonschema.String,
					Description: "O novo horário no formato HH:MM (apenas para 'update').",
				},
				"new_duration_hours": {
					Type:        jsonschema.Number,
					Description: "A nova duração em horas (ex: 1.5 para 1h 30min).",
				},
			}, Required: []string{"event_id", "calendar_id", "action"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.EventID == "" || a.CalendarID == "" {
				return badArguments("event_id e calendar_id são obrigatórios.")
			}

			switch a.Action {
			case "delete":
				if err := r.client.DeleteEvent(ctx, a.CalendarID, a.EventID); err != nil {
					return calendarFault(err)
				}
				return map[string]any{
					"success": true,
					"action":  "deleted",
					"message": fmt.Sprintf("Evento %s deletado com sucesso", a.EventID),
				}
			case "update":
				record, err := r.client.UpdateEvent(ctx, a.CalendarID, a.EventID, calendar.EventChanges{
					Title:         optString(a.NewTitle),
					Date:          optString(a.NewDate),
					StartTime:     optString(a.NewStartTime),
					DurationHours: a.NewDurationHours.or(0),
				})
				if err != nil {
					return calendarFault(err)
				}
				return map[string]any{
					"success":  true,
					"action":   "updated",
					"event_id": a.EventID,
					"title":    record.Title,
					"link":     record.Link,
				}
			default:
				return badArguments("Ação deve ser 'update' ou 'delete'")
			}
		},
	}
}

func (r *Registry) smartScheduleEventTool() Tool {
	type args struct {
		Title          string    `json:"title"`
		PreferredDate  string    `json:"preferred_date"`
		PreferredTime  string    `json:"preferred_time"`
		CalendarName   string    `json:"calendar_name"`
		DurationHours  flexFloat `json:"duration_hours"`
		Description    string    `json:"description"`
		CheckConflicts *bool     `json:"check_conflicts"`
	}
	return Tool{
		Definition: functionTool("smart_schedule_event",
			"Cria um novo evento, verificando conflitos de horário.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"title": {
					Type:        jsonschema.String,
					Description: "Título do novo evento.",
				},
				"preferred_date": {
					Type:        jsonschema.String,
					Description: "Data do evento no formato YYYY-MM-DD.",
				},
				"preferred_time": {
					Type:        jsonschema.String,
					Description: "Horário do evento no formato HH:MM.",
				},
				"calendar_name": {
					Type:        jsonschema.String,
					Description: "Nome da agenda onde criar o evento (ex: 'Trabalho'). Se não informado, usa a agenda principal.",
				},
				"duration_hours": {
					Type:        jsonschema.Number,
					Description: "Duração em horas (ex: 0.5 para 30 minutos). Padrão: 1.",
				},
				"description": {
					Type:        jsonschema.String,
					Description: "Descrição ou notas para o evento.",
				},
			}, Required: []string{"title", "preferred_date", "preferred_time"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.Title == "" || a.PreferredDate == "" || a.PreferredTime == "" {
				return badArguments("title, preferred_date e preferred_time são obrigatórios.")
			}

			ref, err := r.client.ResolveCalendar(ctx, optString(a.CalendarName))
			if err != nil {
				return calendarFault(err)
			}

			start, err := time.ParseInLocation("2006-01-02 15:04",
				a.PreferredDate+" "+a.PreferredTime, r.client.Location())
			if err != nil {
				return badArguments(fmt.Sprintf("Data ou horário inválido: %s %s", a.PreferredDate, a.PreferredTime))
			}

			check := true
			if a.CheckConflicts != nil {
				check = *a.CheckConflicts
			}

			record, err := r.client.CreateEvent(ctx, calendar.CreateInput{
				CalendarID:     ref.ID,
				Title:          a.Title,
				Description:    optString(a.Description),
				Start:          start,
				Duration:       time.Duration(a.DurationHours.or(1) * float64(time.Hour)),
				CheckConflicts: check,
			})
			if err != nil {
				var conflict *calendar.ConflictError
				if errors.As(err, &conflict) {
					return map[string]any{
						"success":  false,
						"conflict": true,
						"message": fmt.Sprintf("Horário %s do dia %s está ocupado na agenda '%s'",
							a.PreferredTime, a.PreferredDate, calendarLabel(a.CalendarName)),
					}
				}
				return calendarFault(err)
			}
			return map[string]any{
				"success":  true,
				"event_id": record.ID,
				"title":    a.Title,
				"link":     record.Link,
			}
		},
	}
}

func (r *Registry) createEventTool() Tool {
	type args struct {
		Summary     string   `json:"summary"`
		StartTime   string   `json:"start_time"`
		EndTime     string   `json:"end_time"`
		CalendarID  string   `json:"calendar_id"`
		Description string   `json:"description"`
		Location    string   `json:"location"`
		Attendees   []string `json:"attendees"`
	}
	return Tool{
		Definition: functionTool("create_event",
			"Cria um evento com horários de início e fim explícitos, sem verificação de conflitos.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"summary": {
					Type:        jsonschema.String,
					Description: "Título do evento.",
				},
				"start_time": {
					Type:        jsonschema.String,
					Description: "Início do evento no formato YYYY-MM-DDTHH:MM:SS.",
				},
				"end_time": {
					Type:        jsonschema.String,
					Description: "Fim do evento no formato YYYY-MM-DDTHH:MM:SS.",
				},
				"calendar_id": {
					Type:        jsonschema.String,
					Description: "ID da agenda. Se não informado, usa a agenda principal.",
				},
				"description": {
					Type:        jsonschema.String,
					Description: "Descrição ou notas para o evento.",
				},
				"location": {
					Type:        jsonschema.String,
					Description: "Local do evento.",
				},
				"attendees": {
					Type:        jsonschema.Array,
					Description: "Emails dos convidados.",
					Items:       &jsonschema.Definition{Type: jsonschema.String},
				},
			}, Required: []string{"summary", "start_time", "end_time"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.Summary == "" || a.StartTime == "" || a.EndTime == "" {
				return badArguments("summary, start_time e end_time são obrigatórios.")
			}

			start, err := parseLocalTime(a.StartTime, r.client.Location())
			if err != nil {
				return badArguments(fmt.Sprintf("Horário de início inválido: %s", a.StartTime))
			}
			end, err := parseLocalTime(a.EndTime, r.client.Location())
			if err != nil {
				return badArguments(fmt.Sprintf("Horário de fim inválido: %s", a.EndTime))
			}
			if !end.After(start) {
				return badArguments("O horário de fim deve ser depois do início.")
			}

			calendarID := optString(a.CalendarID)
			if calendarID == "" {
				calendarID = "primary"
			}

			event := &gcal.Event{
				Summary:     a.Summary,
				Description: optString(a.Description),
				Location:    optString(a.Location),
				Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: r.client.Location().String()},
				End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: r.client.Location().String()},
			}
			for _, email := range a.Attendees {
				if email == "" {
					continue
				}
				event.Attendees = append(event.Attendees, &gcal.EventAttendee{Email: email})
			}

			record, err := r.client.InsertRawEvent(ctx, calendarID, event)
			if err != nil {
				return calendarFault(err)
			}
			return map[string]any{
				"success":  true,
				"event_id": record.ID,
				"title":    record.Title,
				"link":     record.Link,
			}
		},
	}
}

func (r *Registry) deleteEventTool() Tool {
	type args struct {
		EventID    string `json:"event_id"`
		CalendarID string `json:"calendar_id"`
	}
	return Tool{
		Definition: functionTool("delete_event",
			"Deleta um evento pelo seu ID. Use 'search_events' antes para obter o event_id.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"event_id": {
					Type:        jsonschema.String,
					Description: "ID do evento a ser deletado.",
				},
				"calendar_id": {
					Type:        jsonschema.String,
					Description: "ID da agenda. Se não informado, usa a agenda principal.",
				},
			}, Required: []string{"event_id"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.EventID == "" {
				return badArguments("event_id é obrigatório.")
			}
			calendarID := optString(a.CalendarID)
			if calendarID == "" {
				calendarID = "primary"
			}
			if err := r.client.DeleteEvent(ctx, calendarID, a.EventID); err != nil {
				return calendarFault(err)
			}
			return map[string]any{
				"success": true,
				"action":  "deleted",
				"message": fmt.Sprintf("Evento %s deletado com sucesso", a.EventID),
			}
		},
	}
}

func (r *Registry) listAvailabilityTool() Tool {
	type args struct {
		Date         string `json:"date"`
		CalendarName string `json:"calendar_name"`
	}
	return Tool{
		Definition: functionTool("list_availability",
			"Mostra a disponibilidade de um dia inteiro (horário comercial), hora a hora, como livre ou ocupado.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"date": {
					Type:        jsonschema.String,
					Description: "Data no formato YYYY-MM-DD.",
				},
				"calendar_name": {
					Type:        jsonschema.String,
					Description: "Nome da agenda. Se não informado, usa a agenda principal.",
				},
			}, Required: []string{"date"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.Date == "" {
				return badArguments("date é obrigatório.")
			}

			ref, err := r.client.ResolveCalendar(ctx, optString(a.CalendarName))
			if err != nil {
				return calendarFault(err)
			}
			slots, err := r.client.DayPartition(ctx, ref.ID, a.Date, availability.DefaultOptions())
			if err != nil {
				return calendarFault(err)
			}

			out := make([]map[string]string, 0, len(slots))
			for _, slot := range slots {
				out = append(out, map[string]string{
					"start":  slot.Start.Format("15:04"),
					"status": string(slot.Status),
				})
			}
			return map[string]any{"success": true, "date": a.Date, "slots": out}
		},
	}
}

func (r *Registry) findFreeSlotTool() Tool {
	type args struct {
		Date          string    `json:"date"`
		CalendarName  string    `json:"calendar_name"`
		DurationHours flexFloat `json:"duration_hours"`
	}
	return Tool{
		Definition: functionTool("find_free_slot",
			"Encontra o primeiro horário livre de um dia com a duração pedida, dentro do horário comercial.",
			jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{
				"date": {
					Type:        jsonschema.String,
					Description: "Data no formato YYYY-MM-DD.",
				},
				"calendar_name": {
					Type:        jsonschema.String,
					Description: "Nome da agenda. Se não informado, usa a agenda principal.",
				},
				"duration_hours": {
					Type:        jsonschema.Number,
					Description: "Duração desejada em horas (ex: 0.5 para 30 minutos). Padrão: 1.",
				},
			}, Required: []string{"date"}},
		),
		Handler: func(ctx context.Context, raw json.RawMessage) any {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return badArguments(err.Error())
			}
			if a.Date == "" {
				return badArguments("date é obrigatório.")
			}

			ref, err := r.client.ResolveCalendar(ctx, optString(a.CalendarName))
			if err != nil {
				return calendarFault(err)
			}

			opts := availability.DefaultOptions()
			opts.SlotSize = time.Duration(a.DurationHours.or(1) * float64(time.Hour))

			start, ok, err := r.client.NextFreeSlot(ctx, ref.ID, a.Date, opts)
			if err != nil {
				return calendarFault(err)
			}
			if !ok {
				return map[string]any{
					"success": false,
					"message": fmt.Sprintf("Nenhum horário livre encontrado no dia %s na agenda '%s'", a.Date, calendarLabel(a.CalendarName)),
				}
			}
			return map[string]any{
				"success": true,
				"date":    a.Date,
				"start":   start.Format(time.RFC3339),
				"time":    start.Format("15:04"),
			}
		},
	}
}

// parseLocalTime accepts RFC3339 timestamps or zone-naive ones, resolving
// the latter in the given location.
func parseLocalTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", value, loc)
}
