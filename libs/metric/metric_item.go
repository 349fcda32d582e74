package metric

type mockItem struct {
	name string
}

func (mock *mockItem) JSONString() string {
	return mock.name
}
