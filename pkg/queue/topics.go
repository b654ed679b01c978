package queue

import "strings"

// 主题形如 queue.<队列名>.available. 部署级前缀由 mq 客户端统一加上.
const (
	topicHead = "queue."
	topicTail = ".available"
)

// Topic 返回队列的唤醒主题.
func Topic(queueName string) string {
	return topicHead + queueName + topicTail
}

// QueueOf 从主题反解出队列名，不是唤醒主题时返回 false.
func QueueOf(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, topicHead)
	if !ok {
		return "", false
	}

	name, ok = strings.CutSuffix(name, topicTail)
	if !ok || name == "" || strings.Contains(name, ".") {
		return "", false
	}

	return name, true
}
