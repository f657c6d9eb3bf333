package stitch

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

const (
	splitRecordID = "0001234-56.2024.8.26.0100"
	nextRecordID  = "0009999-11.2024.8.26.0100"
)

// previousPage ends with the head of a record that continues on the next page.
const previousPage = "Processo 0004444-22.2024.8.26.0100\n" +
	"Exequente: Pedro Lima. Homologo o acordo.\n\n" +
	"Processo " + splitRecordID + "\n" +
	"Exequente: Maria da Silva\n" +
	"Executado: Município de São Paulo\n"

// currentPage starts with the tail of that record, then a new record begins.
const currentPage = "Advogado: João Souza (OAB/SP 123.456)\n" +
	"Expeça-se precatório no valor de R$ 12.345,67 em favor da exequente.\n\n" +
	"Processo " + nextRecordID + "\n" +
	"Autor: Ana Paula\n"

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[gazette.PageKey]string
	err    error
	calls  int
	perKey map[gazette.PageKey]int
}

func newFakeFetcher(pages map[gazette.PageKey]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, perKey: map[gazette.PageKey]int{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, key gazette.PageKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.perKey[key]++
	if f.err != nil {
		return "", f.err
	}
	content, ok := f.pages[key]
	if !ok {
		return "", errors.New("page not found")
	}
	return content, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pageKey(n int) gazette.PageKey {
	return gazette.PageKey{VolumeID: "15", IssueID: "3840", NotebookID: "12", PageNumber: n}
}
