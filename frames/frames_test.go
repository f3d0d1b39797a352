// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package frames

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupCommand(t *testing.T) {
	for c, name := range CommandNames {
		if c == Unknown {
			continue
		}
		require.Equal(t, c, LookupCommand(name), name)
		require.Equal(t, name, c.String())
	}

	require.Equal(t, Unknown, LookupCommand("NACK"))
	require.Equal(t, Unknown, LookupCommand("connect"))
	require.Equal(t, "UNKNOWN", Command(200).String())
}

func TestParse(t *testing.T) {
	tt := []struct {
		desc string
		in   string
		want Frame
	}{
		{
			desc: "connect",
			in:   "CONNECT\naccept-version:1.2\nhost:stomp.cs.bgu.ac.il\nlogin:meni\npasscode:films\n\n",
			want: Frame{
				Command: Connect,
				Name:    "CONNECT",
				Headers: Headers{
					"accept-version": "1.2",
					"host":           "stomp.cs.bgu.ac.il",
					"login":          "meni",
					"passcode":       "films",
				},
			},
		},
		{
			desc: "send with body",
			in:   "SEND\ndestination:/topic/a\n\nhello\nworld\n",
			want: Frame{
				Command: Send,
				Name:    "SEND",
				Headers: Headers{"destination": "/topic/a"},
				Body:    "hello\nworld",
			},
		},
		{
			desc: "trimmed header values and command",
			in:   "  SUBSCRIBE \r\n destination : /topic/a \nid: 7\r\n\r\n",
			want: Frame{
				Command: Subscribe,
				Name:    "SUBSCRIBE",
				Headers: Headers{"destination": "/topic/a", "id": "7"},
			},
		},
		{
			desc: "header without colon is skipped",
			in:   "SEND\ngarbage\ndestination:/a\n\nbody",
			want: Frame{
				Command: Send,
				Name:    "SEND",
				Headers: Headers{"destination": "/a"},
				Body:    "body",
			},
		},
		{
			desc: "split on first colon only",
			in:   "SEND\ndestination:/a:b:c\n\nx",
			want: Frame{
				Command: Send,
				Name:    "SEND",
				Headers: Headers{"destination": "/a:b:c"},
				Body:    "x",
			},
		},
		{
			desc: "last duplicate header wins",
			in:   "SEND\ndestination:/a\ndestination:/b\n\nx",
			want: Frame{
				Command: Send,
				Name:    "SEND",
				Headers: Headers{"destination": "/b"},
				Body:    "x",
			},
		},
		{
			desc: "no blank line means no body",
			in:   "DISCONNECT\nreceipt:77",
			want: Frame{
				Command: Disconnect,
				Name:    "DISCONNECT",
				Headers: Headers{"receipt": "77"},
			},
		},
		{
			desc: "body keeps inner blank lines",
			in:   "SEND\ndestination:/a\n\nline1\n\nline3\n\n\n",
			want: Frame{
				Command: Send,
				Name:    "SEND",
				Headers: Headers{"destination": "/a"},
				Body:    "line1\n\nline3",
			},
		},
		{
			desc: "unknown command keeps its name",
			in:   "BEGIN\ntransaction:tx1\n\n",
			want: Frame{
				Command: Unknown,
				Name:    "BEGIN",
				Headers: Headers{"transaction": "tx1"},
			},
		},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			f, err := Parse(tx.in)
			require.NoError(t, err)
			require.Equal(t, tx.want, f)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Parse("\n\r\n")
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestString(t *testing.T) {
	f := New(Message, Headers{
		HeaderSubscription: "0",
		HeaderMessageID:    "3",
		HeaderDestination:  "/topic/a",
	}, "hi")
	require.Equal(t, "MESSAGE\ndestination:/topic/a\nmessage-id:3\nsubscription:0\n\nhi", f.String())
}

func TestStringNoHeaders(t *testing.T) {
	require.Equal(t, "DISCONNECT\n\n", New(Disconnect, nil, "").String())
}

func TestStringUnknown(t *testing.T) {
	f := Frame{Command: Unknown, Name: "BEGIN", Headers: Headers{}}
	require.Equal(t, "BEGIN\n\n", f.String())

	f = Frame{Command: Unknown}
	require.Equal(t, "UNKNOWN\n\n", f.String())
}

func TestWriteTo(t *testing.T) {
	f := New(Receipt, Headers{HeaderReceiptID: "9"}, "")
	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	require.Equal(t, "RECEIPT\nreceipt-id:9\n\n", buf.String())
}

func TestRoundTrip(t *testing.T) {
	in := []string{
		"SEND\ndestination:/topic/a\nreceipt:12\n\nhello",
		"MESSAGE\ndestination:/a\nmessage-id:1\nsubscription:4\n\nmulti\nline\nbody",
		"ERROR\nmessage:Not subscribed\nreceipt-id:2\n\nUser is not subscribed to topic /a",
	}

	for _, text := range in {
		f, err := Parse(text)
		require.NoError(t, err)
		require.Equal(t, text, f.String())

		again, err := Parse(f.String())
		require.NoError(t, err)
		require.Equal(t, f, again)
	}
}

func TestHeaders(t *testing.T) {
	h := Headers{"b": "2", "a": "1"}
	require.Equal(t, []string{"a", "b"}, h.Keys())
	require.True(t, h.Has("a", "b"))
	require.False(t, h.Has("a", "c"))

	v, ok := h.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	_, ok = h.Get("z")
	require.False(t, ok)
}

func TestCopy(t *testing.T) {
	f := New(Send, Headers{"destination": "/a"}, "x")
	c := f.Copy()
	c.Headers["destination"] = "/b"
	require.Equal(t, "/a", f.Headers["destination"])
}

func BenchmarkParse(b *testing.B) {
	text := "SEND\ndestination:/topic/a\nreceipt:12\n\nhello"
	for n := 0; n < b.N; n++ {
		_, _ = Parse(text)
	}
}
