// Package format renders the chat messages. All output is Telegram HTML;
// every value taken from the sheet or from users is escaped.
package format

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/noahxzhu/timetable-notify/internal/diff"
)

const (
	PinButtonText = "Закрепить"

	DayQuestion       = "Какой день?"
	DayButtonToday    = "Сегодня"
	DayButtonTomorrow = "Завтра"
	DayButtonDayAfter = "Послезавтра"

	LookupFailed = "Не удалось получить расписание:( Свяжитесь с администратором"
	SaveFailed   = "Не удалось сохранить настройки чата:( Свяжитесь с администратором"

	GroupRequired     = "Нужно указать группу. Пример: <code>/group 158</code>"
	GroupNotBound     = "Для этого чата ещё не привязана группа."
	GroupNotBoundList = "Для этого чата ещё не привязана группа. Сначала выполните <code>/group 158</code>."

	NotificationsOn  = "Уведомления о новых расписаниях для этого чата включены."
	NotificationsOff = "Рассылка о новых расписаниях для этого чата отключена."

	Pinned    = "Сообщение закреплено"
	PinFailed = "Не удалось закрепить. Нужны права на закрепление сообщений."

	Help = "\n" +
		"⌜Помощь по командам⌟ ✦\n\n" +
		"❭ /unsubscribe — включить/отключить уведомления о <i>изменении</i> расписания\n\n" +
		"❭ /group &lt;группа&gt; — привязать или сменить группу для <i>этого</i> чата\n⛶ <u>/group 158</u>\n\n" +
		"❭ /list — показать расписание для привязанной группы\n\n" +
		"❭ /list &lt;группа&gt; — показать расписание указанной группы\n⛶ <u>/list 160</u>\n"
)

var pairNames = map[string]string{
	"1": "Первая", "1.0": "Первая",
	"2": "Вторая", "2.0": "Вторая",
	"3": "Третья", "3.0": "Третья",
	"4": "Четвёртая", "4.0": "Четвёртая",
	"5": "Пятая", "5.0": "Пятая",
	"6": "Шестая", "6.0": "Шестая",
}

// DayLabel renders a date as "dd.mm".
func DayLabel(d time.Time) string {
	return d.Format("02.01")
}

// Start is the reply to /start. botName is the bot's username without "@".
func Start(botName string) string {
	mention := "@" + html.EscapeString(botName)
	return "Бот активен.\n\n" +
		"Для получения расписания отправь номер или название группы в личные сообщения, например:\n" +
		"<code>158</code>\n\n" +
		"В групповых чатах можно написать:\n" +
		"<code>" + mention + " 158</code>\n\n" +
		"или использовать команду:\n" +
		"<code>/list 158</code>"
}

// Welcome is posted when the bot is added to a group chat.
func Welcome(botName string) string {
	mention := "@" + botName
	line1 := html.EscapeString(fmt.Sprintf("привяжи бота к группе, напиши %s <номер группы>", mention))
	line2 := html.EscapeString(fmt.Sprintf("Например %s 158", mention))
	return line1 + "\n\n<i>" + line2 + "</i>"
}

// GroupUnrecognized asks for a group number, showing usage as the example.
func GroupUnrecognized(usage string) string {
	return fmt.Sprintf("Не удалось распознать номер группы. Пример: <code>%s 158</code>", html.EscapeString(usage))
}

func Header(group string) string {
	return fmt.Sprintf("✦ Расписание для группы <b>%s:</b>", html.EscapeString(group))
}

func BindGroup(group string) string {
	return fmt.Sprintf("Группа <b>%s</b> привязана к этому чату.", html.EscapeString(group))
}

func Loading(group string) string {
	return fmt.Sprintf("Секунду. Расписание для группы %s..", html.EscapeString(group))
}

// NewSchedulePrefix heads the first notification for a group. date is
// "dd.mm" or empty when the file carries no date.
func NewSchedulePrefix(date string) string {
	if date == "" {
		return "<b>Новое расписание</b>"
	}
	return fmt.Sprintf("<b>Новое расписание (%s)</b>", html.EscapeString(date))
}

// UpdatedSchedulePrefix heads notifications for groups seen before.
func UpdatedSchedulePrefix(date string) string {
	if date == "" {
		return "<b>Изменения в расписании</b>"
	}
	return fmt.Sprintf("<b>Изменения в расписании (%s)</b>", html.EscapeString(date))
}

// Schedule renders a group's entries, italicizing the fields that changed.
func Schedule(group string, changes []diff.Change) string {
	if len(changes) == 0 {
		return fmt.Sprintf("Для группы %s ничего не найдено в последнем расписании.", html.EscapeString(group))
	}

	lines := []string{Header(group), ""}
	for _, c := range changes {
		e := c.Entry
		if h := pairHeader(e.Pair, e.Time, c.Time); h != "" {
			lines = append(lines, h)
		}
		if e.Subject != "" {
			lines = append(lines, mark("🗒 "+html.EscapeString(e.Subject), c.Subject))
		}
		if e.Teacher != "" {
			lines = append(lines, mark("📎 "+html.EscapeString(e.Teacher), c.Teacher))
		}
		if e.Room != "" {
			lines = append(lines, mark("🍒 Ауд. "+html.EscapeString(strings.TrimSuffix(e.Room, ".0")), c.Room))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// Notification is a watcher message: prefix, blank line, schedule body.
func Notification(group, date string, changes []diff.Change, updated bool) string {
	prefix := NewSchedulePrefix(date)
	if updated {
		prefix = UpdatedSchedulePrefix(date)
	}
	return prefix + "\n\n" + Schedule(group, changes)
}

func pairHeader(pair, at string, changed bool) string {
	name, ok := pairNames[pair]
	if !ok {
		name = pair
	}
	var parts []string
	if name != "" {
		parts = append(parts, fmt.Sprintf("<b>%s пара</b>", html.EscapeString(name)))
	}
	if at != "" {
		parts = append(parts, fmt.Sprintf("(%s)", html.EscapeString(at)))
	}
	return mark(strings.Join(parts, " "), changed)
}

func mark(text string, changed bool) string {
	if changed && text != "" {
		return "<i>" + text + "</i>"
	}
	return text
}
