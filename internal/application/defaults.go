package application

func intPtr(v int) *int { return &v }

// DefaultSettings returns the factory configuration a fresh installation
// starts from. The bootstrap catch-up protocol compares against these values
// to decide whether a client still holds untouched state, so additions here
// change what counts as "default" for IsLocalDataDefault.
func DefaultSettings() Settings {
	return Settings{
		Employees: []Employee{
			{Name: "Ильвина", Position: "Администратор"},
			{Name: "Инесса", Position: "Мастер"},
			{Name: "Альбина", Position: "Мастер"},
			{Name: "Анастасия", Position: "Консультант"},
			{Name: "Арина", Position: "Стажер"},
			{Name: "Ксения", Position: "Мастер"},
			{Name: "Света", Position: "Консультант"},
			{Name: "Елена", Position: "Администратор"},
			{Name: "Леся", Position: "Мастер"},
			{Name: "Алия", Position: "Менеджер"},
			{Name: "Даша", Position: "Стажер"},
		},
		Positions: []string{"Администратор", "Мастер", "Стажер", "Консультант", "Менеджер"},
		ShiftTypes: map[string]ShiftType{
			"morning":  {Label: "Утро", Time: "8:00-16:00", ShortLabel: "У", Start: intPtr(8), End: intPtr(16), Color: "#FFD700"},
			"day":      {Label: "День", Time: "10:00-18:00", ShortLabel: "Д", Start: intPtr(10), End: intPtr(18), Color: "#4CAF50"},
			"evening":  {Label: "Вечер", Time: "16:00-00:00", ShortLabel: "В", Start: intPtr(16), End: intPtr(24), Color: "#2196F3"},
			"night":    {Label: "Ночь", Time: "00:00-08:00", ShortLabel: "Н", Start: intPtr(0), End: intPtr(8), Color: "#9C27B0"},
			"flexible": {Label: "Свободная смена", ShortLabel: "С", Color: "#00BCD4", IsFlexible: true},
			"off":      {Label: "Выходной", ShortLabel: "В", Color: "#f44336"},
			"vacation": {Label: "Отпуск", ShortLabel: "О", Color: "#FF9800"},
			"sick":     {Label: "Больничный", ShortLabel: "Б", Color: "#9E9E9E"},
		},
		Tags: map[string]Tag{
			"important": {Label: "Важно", ShortLabel: "Важно", Color: "#ff4444"},
			"training":  {Label: "Обучение", ShortLabel: "Обучение", Color: "#44ff44"},
			"overtime":  {Label: "Сверхурочно", ShortLabel: "Сверхурочно", Color: "#ffaa00"},
		},
		WorkingHours: WorkingHours{Start: 8, End: 22},
		Websocket:    WebsocketConfig{},
		Telegram:     TelegramConfig{},
		Admins:       nil,
		Debug:        false,
	}
}

// DefaultViewPeriod is the rolling window length in days.
const DefaultViewPeriod = 14

// DefaultViewState returns the initial display state. The window start date
// is resolved lazily by the date index so a stored empty value self-heals to
// the current Monday.
func DefaultViewState() ViewState {
	return ViewState{
		CurrentView:      ViewModeGrid,
		ViewPeriod:       DefaultViewPeriod,
		SelectedPosition: PositionAll,
	}
}
