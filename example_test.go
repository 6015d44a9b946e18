package reacthttp

import (
	"context"
	"fmt"
	"io"
)

func ExampleSession_Get() {
	s := NewSession()
	defer s.Close()

	resp, err := s.Get(context.Background(), "http://www.google.com/?a=b")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	fmt.Println(err)
	fmt.Println(string(b))
}
