package kafka

import (
	"crypto/tls"
	"encoding/binary"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fujin-io/stompbridge/public/cerr"
)

func commonOpts(conf Config, tlsConf *tls.Config) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
	}
	if tlsConf != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsConf))
	}
	if conf.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	return opts
}

func writerOpts(conf Config, tlsConf *tls.Config, transactionalID string) []kgo.Opt {
	opts := commonOpts(conf, tlsConf)

	if transactionalID != "" {
		opts = append(opts, kgo.TransactionalID(transactionalID))
	}
	if conf.DisableIdempotentWrite {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if conf.Linger != 0 {
		opts = append(opts, kgo.ProducerLinger(conf.Linger))
	}
	if conf.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(conf.MaxBufferedRecords))
	}
	return opts
}

func readerOpts(conf Config, tlsConf *tls.Config, topic, group string, autoCommit bool) []kgo.Opt {
	opts := commonOpts(conf, tlsConf)
	opts = append(opts, kgo.ConsumeTopics(topic))

	if group != "" {
		opts = append(opts, kgo.ConsumerGroup(group))
		if !autoCommit {
			opts = append(opts, kgo.DisableAutoCommit())
		}
		if conf.AutoCommitInterval != 0 {
			opts = append(opts, kgo.AutoCommitInterval(conf.AutoCommitInterval))
		}
		if conf.BlockRebalanceOnPoll {
			opts = append(opts, kgo.BlockRebalanceOnPoll())
		}
		opts = appendBalancers(opts, conf.Balancers)
	} else if !conf.ConsumeFromStart {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	if conf.FetchIsolationLevel == IsolationLevelReadCommited {
		opts = append(opts, kgo.FetchIsolationLevel(kgo.ReadCommitted()))
	}
	return opts
}

func appendBalancers(opts []kgo.Opt, balancers []Balancer) []kgo.Opt {
	seen := make(map[Balancer]struct{}, len(balancers))
	bs := make([]kgo.GroupBalancer, 0, len(balancers))
	for _, b := range balancers {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}

		switch b {
		case BalancerSticky:
			bs = append(bs, kgo.StickyBalancer())
		case BalancerCooperativeSticky:
			bs = append(bs, kgo.CooperativeStickyBalancer())
		case BalancerRange:
			bs = append(bs, kgo.RangeBalancer())
		case BalancerRoundRobin:
			bs = append(bs, kgo.RoundRobinBalancer())
		}
	}
	if len(bs) != 0 {
		opts = append(opts, kgo.Balancers(bs...))
	}
	return opts
}

// A message id is partition, leader epoch and offset followed by the topic.
const msgIDStaticLen = 16

func encodeMsgID(r *kgo.Record) []byte {
	buf := make([]byte, 0, msgIDStaticLen+len(r.Topic))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Partition))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.LeaderEpoch))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Offset))
	return append(buf, r.Topic...)
}

func decodeMsgID(id []byte) (topic string, partition int32, eo kgo.EpochOffset, err error) {
	if len(id) <= msgIDStaticLen {
		return "", 0, eo, cerr.ErrUnknownMsgID
	}
	partition = int32(binary.BigEndian.Uint32(id[0:4]))
	eo.Epoch = int32(binary.BigEndian.Uint32(id[4:8]))
	eo.Offset = int64(binary.BigEndian.Uint64(id[8:16]))
	return string(id[msgIDStaticLen:]), partition, eo, nil
}

func recordHeaders(headers [][]byte) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	kh := make([]kgo.RecordHeader, 0, len(headers)/2)
	for i := 0; i+1 < len(headers); i += 2 {
		kh = append(kh, kgo.RecordHeader{Key: string(headers[i]), Value: headers[i+1]})
	}
	return kh
}

func messageHeaders(kh []kgo.RecordHeader) [][]byte {
	if len(kh) == 0 {
		return nil
	}
	hs := make([][]byte, 0, 2*len(kh))
	for _, h := range kh {
		hs = append(hs, []byte(h.Key), h.Value)
	}
	return hs
}
