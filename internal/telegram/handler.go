package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/media"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/models"
	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgGenericError   = "⚠️ Что-то пошло не так. Попробуйте позже."
	msgNotRegistered  = "Вы ещё не зарегистрированы. Отправьте /start, чтобы начать."
	msgSessionExpired = "⌛ Сессия истекла. Начните заново."
	msgStaleButton    = "Эта кнопка больше не активна."
)

type Options struct {
	ProjectsPerPage  int
	PhotosPerPage    int
	DownloadAttempts int
	DownloadBackoff  time.Duration
	DownloadTimeout  time.Duration
	SendConcurrency  int
}

func (o *Options) setDefaults() {
	if o.ProjectsPerPage <= 0 {
		o.ProjectsPerPage = 5
	}
	if o.PhotosPerPage <= 0 {
		o.PhotosPerPage = 5
	}
	if o.DownloadAttempts <= 0 {
		o.DownloadAttempts = 3
	}
	if o.DownloadBackoff <= 0 {
		o.DownloadBackoff = time.Second
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 20 * time.Second
	}
	if o.SendConcurrency <= 0 {
		o.SendConcurrency = 8
	}
}

type UpdateHandler struct {
	client   Messenger
	state    *StateManager
	users    *services.UserService
	projects *services.ProjectService
	tasks    *services.TaskService
	photos   *services.PhotoService
	store    *media.Store
	clock    services.Clock
	logger   *zap.Logger
	opts     Options
	steps    map[Step]stepFunc
}

func NewUpdateHandler(
	client Messenger,
	state *StateManager,
	users *services.UserService,
	projects *services.ProjectService,
	tasks *services.TaskService,
	photos *services.PhotoService,
	store *media.Store,
	clock services.Clock,
	logger *zap.Logger,
	opts Options,
) *UpdateHandler {
	opts.setDefaults()
	return &UpdateHandler{
		client:   client,
		state:    state,
		users:    users,
		projects: projects,
		tasks:    tasks,
		photos:   photos,
		store:    store,
		clock:    clock,
		logger:   logger,
		opts:     opts,
		steps:    stepTable(),
	}
}

// Input is an update reduced to what the dialogue code looks at.
type Input struct {
	UserID     int64
	ChatID     int64
	MessageID  int64
	FirstName  string
	Text       string
	Command    string
	Args       []string
	Callback   string
	CallbackID string
	Contact    *Contact
	Photo      *PhotoSize

	log *zap.Logger
}

func newInput(upd Update) *Input {
	if cq := upd.CallbackQuery; cq != nil {
		in := &Input{
			UserID:     cq.From.ID,
			ChatID:     cq.From.ID,
			FirstName:  cq.From.FirstName,
			Callback:   cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil {
			in.ChatID = cq.Message.Chat.ID
			in.MessageID = cq.Message.MessageID
		}
		return in
	}

	msg := upd.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	in := &Input{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		FirstName: msg.From.FirstName,
		Text:      strings.TrimSpace(msg.Text),
		Contact:   msg.Contact,
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		in.Photo = &largest
	}
	in.Command, in.Args = parseCommand(in.Text)
	return in
}

// parseCommand splits "/cmd@bot a b" into ("cmd", ["a", "b"]).
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

// Handle processes one update to completion. Updates of the same user are
// processed one at a time.
func (h *UpdateHandler) Handle(ctx context.Context, upd Update) {
	in := newInput(upd)
	if in == nil {
		return
	}
	in.log = h.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.Int64("update_id", upd.UpdateID),
		zap.Int64("telegram_id", in.UserID),
	)

	unlock := h.state.Lock(in.UserID)
	defer unlock()

	if in.CallbackID != "" {
		if err := h.client.AnswerCallbackQuery(ctx, in.CallbackID, ""); err != nil {
			in.log.Debug("answer callback failed", zap.Error(err))
		}
	}

	s := h.state.Get(in.UserID)
	if in.Command != "" && in.Command != "skip" {
		h.settleRating(ctx, in, s)
		h.runCommand(ctx, in)
		return
	}

	if s.Step != StepIdle && h.runStep(ctx, in, s) {
		return
	}
	h.settleRating(ctx, in, s)
	h.route(ctx, in)
}

func (h *UpdateHandler) runStep(ctx context.Context, in *Input, s *Session) bool {
	fn, ok := h.steps[s.Step]
	if !ok {
		in.log.Error("no handler for dialogue step", zap.String("step", string(s.Step)))
		h.state.Clear(in.UserID)
		return false
	}
	if s.Step.isTaskAuthoring() && in.Callback == cbTaskCancel {
		h.state.Clear(in.UserID)
		h.reply(ctx, in, "Создание задания отменено.", nil)
		return true
	}

	from := s.Step
	next, err := fn(h, ctx, in, s)
	if errors.Is(err, errPass) {
		return false
	}
	h.finish(ctx, in, s, from, next, err)
	return true
}

func (h *UpdateHandler) enter(ctx context.Context, in *Input, fn entryFunc) {
	s := &Session{}
	next, err := fn(ctx, in, s)
	if errors.Is(err, errPass) {
		h.state.Clear(in.UserID)
		return
	}
	h.finish(ctx, in, s, StepIdle, next, err)
}

func (h *UpdateHandler) finish(ctx context.Context, in *Input, s *Session, from, next Step, err error) {
	switch {
	case errors.Is(err, errSessionExpired):
		h.state.Clear(in.UserID)
		h.reply(ctx, in, msgSessionExpired+" /start", nil)
		return
	case err != nil:
		in.log.Error("dialogue step failed", zap.String("step", string(from)), zap.Error(err))
		h.state.Clear(in.UserID)
		h.reply(ctx, in, msgGenericError, nil)
		return
	}

	if next == StepIdle {
		h.state.Clear(in.UserID)
		return
	}
	if !canTransition(from, next) {
		in.log.Error("illegal dialogue transition", zap.String("from", string(from)), zap.String("to", string(next)))
		h.state.Clear(in.UserID)
		h.reply(ctx, in, msgGenericError, nil)
		return
	}
	s.Step = next
	h.state.Set(in.UserID, s)
}

func (h *UpdateHandler) runCommand(ctx context.Context, in *Input) {
	h.state.Clear(in.UserID)

	var fn entryFunc
	switch in.Command {
	case "start":
		fn = h.cmdStart
	case "cancel":
		fn = h.cmdCancel
	case "org":
		fn = h.cmdOrg
	case "moderate_photos":
		fn = h.startModeration
	case "projects":
		fn = h.cmdProjects
	case "join_project":
		fn = h.startBrowse
	case "help":
		fn = h.cmdHelp
	default:
		h.reply(ctx, in, "Неизвестная команда. Список команд: /help", nil)
		return
	}
	h.enter(ctx, in, fn)
}

// route handles input that no dialogue step consumed.
func (h *UpdateHandler) route(ctx context.Context, in *Input) {
	data := in.Callback
	if data == "" {
		h.enter(ctx, in, h.showMenu)
		return
	}

	var fn entryFunc
	switch {
	case data == cbMenuProjects:
		fn = h.startBrowse
	case data == cbMenuProfile:
		fn = h.showProfile
	case data == cbMenuTasks:
		fn = h.showMyTasks
	case data == cbMenuLeave:
		fn = h.startLeave
	case data == cbMenuCreateProject:
		fn = h.startProjectCreation
	case data == cbMenuVolunteers:
		fn = h.showRosterProjects
	case data == cbMenuSendTask:
		fn = h.startDispatch
	case data == cbMenuPhotos:
		fn = h.startModeration
	case strings.HasPrefix(data, cbRosterPrefix):
		fn = h.showRoster
	case strings.HasPrefix(data, cbTaskAcceptPrefix):
		fn = h.acceptTask
	case strings.HasPrefix(data, cbTaskDeclinePrefix):
		fn = h.declineTask
	case strings.HasPrefix(data, cbTaskDonePrefix):
		fn = h.startCompletion
	default:
		h.reply(ctx, in, msgStaleButton, nil)
		return
	}
	h.enter(ctx, in, fn)
}

func (h *UpdateHandler) cmdStart(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, err := h.users.GetByTelegramID(ctx, in.UserID)
	switch {
	case err == nil:
		h.reply(ctx, in, fmt.Sprintf("👋 С возвращением, %s!", esc(user.Name)), nil)
		h.sendMenu(ctx, in, user)
		return StepIdle, nil
	case !errors.Is(err, services.ErrNotFound):
		return StepIdle, err
	}

	h.reply(ctx, in, "👋 Добро пожаловать в бот волонтёров!\n\nКак вас зовут?", nil)
	return StepRegName, nil
}

func (h *UpdateHandler) cmdCancel(ctx context.Context, in *Input, s *Session) (Step, error) {
	h.reply(ctx, in, "Действие отменено.", nil)
	if user, err := h.users.GetByTelegramID(ctx, in.UserID); err == nil {
		h.sendMenu(ctx, in, user)
	}
	return StepIdle, nil
}

func (h *UpdateHandler) cmdOrg(ctx context.Context, in *Input, s *Session) (Step, error) {
	if _, ok := h.requireOrganizer(ctx, in); !ok {
		return StepIdle, nil
	}
	h.reply(ctx, in, "🧰 Меню организатора:", OrganizerMenuKeyboard())
	return StepIdle, nil
}

func (h *UpdateHandler) cmdHelp(ctx context.Context, in *Input, s *Session) (Step, error) {
	h.reply(ctx, in, strings.Join([]string{
		"<b>Команды</b>",
		"/start — регистрация и главное меню",
		"/projects [город] [тег] — доступные проекты",
		"/join_project — присоединиться к проекту",
		"/org — меню организатора",
		"/moderate_photos — проверка фотоотчётов",
		"/skip — пропустить необязательный шаг",
		"/cancel — отменить текущее действие",
	}, "\n"), nil)
	return StepIdle, nil
}

func (h *UpdateHandler) showMenu(ctx context.Context, in *Input, s *Session) (Step, error) {
	user, err := h.users.GetByTelegramID(ctx, in.UserID)
	if errors.Is(err, services.ErrNotFound) {
		h.reply(ctx, in, msgNotRegistered, nil)
		return StepIdle, nil
	}
	if err != nil {
		return StepIdle, err
	}
	h.sendMenu(ctx, in, user)
	return StepIdle, nil
}

func (h *UpdateHandler) sendMenu(ctx context.Context, in *Input, user *models.User) {
	if user.IsOrganizer {
		h.reply(ctx, in, "🧰 Меню организатора:", OrganizerMenuKeyboard())
		return
	}
	h.reply(ctx, in, "📋 Главное меню:", VolunteerMenuKeyboard())
}

// currentUser loads the sender's account and tells unregistered users how
// to register. ok is false when the caller should stop.
func (h *UpdateHandler) currentUser(ctx context.Context, in *Input) (*models.User, bool, error) {
	user, err := h.users.GetByTelegramID(ctx, in.UserID)
	if errors.Is(err, services.ErrNotFound) {
		h.reply(ctx, in, msgNotRegistered, nil)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (h *UpdateHandler) requireOrganizer(ctx context.Context, in *Input) (*models.User, bool) {
	user, ok, err := h.currentUser(ctx, in)
	if err != nil {
		in.log.Error("load user failed", zap.Error(err))
		h.reply(ctx, in, msgGenericError, nil)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if user.IsOrganizer {
		return user, true
	}
	if user.HasPendingOrganizerRequest() {
		h.reply(ctx, in, "⏳ Ваш запрос на статус организатора ещё на рассмотрении.", nil)
	} else {
		h.reply(ctx, in, "⛔ У вас нет прав организатора.", nil)
	}
	return nil, false
}

func (h *UpdateHandler) reply(ctx context.Context, in *Input, text string, markup interface{}) int64 {
	id, err := h.client.SendMessage(ctx, in.ChatID, text, markup)
	if err != nil {
		in.log.Error("send message failed", zap.Error(err))
	}
	return id
}

// edit replaces the message the callback came from, falling back to a new
// message when there is none or editing fails.
func (h *UpdateHandler) edit(ctx context.Context, in *Input, text string, markup interface{}) {
	if in.MessageID != 0 && in.Callback != "" {
		if err := h.client.EditMessageText(ctx, in.ChatID, in.MessageID, text, markup); err == nil {
			return
		}
	}
	h.reply(ctx, in, text, markup)
}

func esc(s string) string {
	return html.EscapeString(s)
}

// callbackArg returns the numeric suffix of a callback with the given prefix.
func callbackArg(data, prefix string) (int, bool) {
	if !strings.HasPrefix(data, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(data, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

func callbackID(data, prefix string) (uint, bool) {
	n, ok := callbackArg(data, prefix)
	if !ok || n <= 0 {
		return 0, false
	}
	return uint(n), true
}
