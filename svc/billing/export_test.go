package billing

var ParsePaddleEvent = parsePaddleEvent
