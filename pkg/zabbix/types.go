// Package zabbix описывает протокол Zabbix trapper (sender data)
// и ключи элементов данных, которые заполняет systemstats.
package zabbix

import "fmt"

// Header - заголовок пакета ZBXD версии 1
const Header = "ZBXD\x01"

// KeyPrefix - общий префикс ключей элементов данных
const KeyPrefix = "systemstats"

// SenderData - одно значение элемента данных
type SenderData struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock,omitempty"`
	NS    int64  `json:"ns,omitempty"`
}

// SenderRequest - запрос "sender data"
type SenderRequest struct {
	Request string       `json:"request"`
	Data    []SenderData `json:"data"`
	Clock   int64        `json:"clock,omitempty"`
}

// SenderResponse - ответ сервера или прокси
type SenderResponse struct {
	Response string `json:"response"`
	Info     string `json:"info,omitempty"`
}

// Item описывает элемент данных типа Zabbix trapper
type Item struct {
	Key         string
	Name        string
	ValueType   int // 0 - float, 3 - unsigned int, 4 - text
	Description string
}

// Key строит ключ вида systemstats.<metric> или systemstats.<metric>[param]
func Key(metric string, params ...string) string {
	key := KeyPrefix + "." + metric
	if len(params) == 0 {
		return key
	}
	joined := params[0]
	for _, p := range params[1:] {
		joined += "," + p
	}
	return fmt.Sprintf("%s[%s]", key, joined)
}

// Items возвращает элементы данных, которые нужно создать на сервере.
// Ключи ядер CPU (systemstats.cpu_usage[N]) создаются по числу ядер.
func Items() []Item {
	return []Item{
		{Key: Key("cpu_usage"), Name: "CPU utilization", ValueType: 3, Description: "CPU usage percentage"},
		{Key: Key("cpu_temp"), Name: "CPU temperature", ValueType: 0, Description: "CPU temperature in Celsius"},
		{Key: Key("mem_usage", "used"), Name: "Used memory", ValueType: 0, Description: "Used memory in GB"},
		{Key: Key("mem_usage", "free"), Name: "Free memory", ValueType: 0, Description: "Available memory in GB"},
		{Key: Key("mem_usage", "total"), Name: "Total memory", ValueType: 0, Description: "Total memory in GB"},
		{Key: Key("disk_usage", "capacity"), Name: "Disk capacity", ValueType: 4, Description: "Disk size as reported by df"},
		{Key: Key("disk_usage", "free"), Name: "Free disk space", ValueType: 4, Description: "Free disk space as reported by df"},
		{Key: Key("fan_speed"), Name: "Fan speed", ValueType: 3, Description: "Fan speed in RPM"},
		{Key: Key("ping_result"), Name: "Ping average", ValueType: 0, Description: "Average round trip time in ms"},
	}
}
